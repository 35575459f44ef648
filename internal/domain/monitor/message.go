package monitor

import (
	"sort"
	"time"
)

// EmbeddingDim 嵌入向量维度
const EmbeddingDim = 1024

// Urgency 紧急程度（三态）
type Urgency int

const (
	// UrgencyUnknown 尚未分析
	UrgencyUnknown Urgency = iota
	// UrgencyNo 不紧急
	UrgencyNo
	// UrgencyYes 紧急
	UrgencyYes
)

// String 返回可读值
func (u Urgency) String() string {
	switch u {
	case UrgencyNo:
		return "no"
	case UrgencyYes:
		return "yes"
	default:
		return "unknown"
	}
}

// UrgencyOf 把布尔结果转换为 Urgency
func UrgencyOf(urgent bool) Urgency {
	if urgent {
		return UrgencyYes
	}
	return UrgencyNo
}

// Message 会话中的一条消息
// (ConversationID, MessageID) 唯一且不可变
type Message struct {
	ConversationID int64
	MessageID      int64
	Timestamp      time.Time
	Text           string
	Urgency        Urgency
	Embedding      []float32 // nil 表示待分析
}

// HasText 是否有可分析的文本
func (m *Message) HasText() bool {
	return m.Text != ""
}

// Analyzed 是否已经完成分析
func (m *Message) Analyzed() bool {
	return m.Urgency != UrgencyUnknown || m.Embedding != nil
}

// NeedsAnalysis 是否需要送去推理
func (m *Message) NeedsAnalysis() bool {
	return m.HasText() && !m.Analyzed()
}

// Preview 返回前 n 个字符
func (m *Message) Preview(n int) string {
	runes := []rune(m.Text)
	if len(runes) <= n {
		return m.Text
	}
	return string(runes[:n])
}

// SortByID 按消息 ID 升序排序
func SortByID(msgs []*Message) {
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].MessageID < msgs[j].MessageID
	})
}

// MaxID 返回最大消息 ID，空切片返回 floor
func MaxID(msgs []*Message, floor int64) int64 {
	max := floor
	for _, m := range msgs {
		if m.MessageID > max {
			max = m.MessageID
		}
	}
	return max
}

// MessageAnalysis 单条消息的分析结果
type MessageAnalysis struct {
	MessageID int64
	Urgent    bool
	Embedding []float32
}

// Neighbor 最近邻查询结果
type Neighbor struct {
	ConversationID int64   `json:"conversation_id"`
	MessageID      int64   `json:"message_id"`
	Text           string  `json:"text"`
	Score          float32 `json:"score"`
}
