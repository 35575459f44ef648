// Package monitor 定义会话监控的领域模型、错误分类和端口接口
package monitor

import (
	"fmt"
	"time"
)

// PeerKind 会话类型
type PeerKind string

const (
	// PeerKindGroup 普通群组
	PeerKindGroup PeerKind = "group"
	// PeerKindChannel 频道或超级群组
	PeerKindChannel PeerKind = "channel"
)

// channelIDOffset 频道 ID 的标记偏移量
const channelIDOffset int64 = 1000000000000

// AccessState 会话访问状态
type AccessState string

const (
	// AccessActive 正常可访问
	AccessActive AccessState = "active"
	// AccessStale 句柄失效，等待刷新
	AccessStale AccessState = "stale"
	// AccessInaccessible 不可访问，跳过直到人工恢复
	AccessInaccessible AccessState = "inaccessible"
)

// Handle 远端寻址句柄
// 对核心流程不透明，可能过期，需要通过 Registry 刷新
type Handle struct {
	Kind       PeerKind `json:"kind"`
	PeerID     int64    `json:"peer_id"`
	AccessHash int64    `json:"access_hash"`
}

// ConversationID 返回句柄对应的自然键
func (h Handle) ConversationID() int64 {
	return MarkedID(h.Kind, h.PeerID)
}

// String 返回 "channel:123" 形式的可读标识
func (h Handle) String() string {
	return fmt.Sprintf("%s:%d", h.Kind, h.PeerID)
}

// MarkedID 把远端原始 ID 转换为全局唯一的自然键
// 普通群组为 -id，频道为 -(1000000000000+id)
func MarkedID(kind PeerKind, peerID int64) int64 {
	if kind == PeerKindChannel {
		return -(channelIDOffset + peerID)
	}
	return -peerID
}

// Conversation 被监控的群组或频道
type Conversation struct {
	ID              int64 // 自然键
	Handle          Handle
	DisplayName     string
	Category        string // 为空表示尚未分析
	SuggestedName   string
	Cursor          int64 // 最后成功处理的消息 ID，只增不减
	AccessState     AccessState
	MembersSyncedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewConversation 根据远端句柄创建新会话
func NewConversation(handle Handle, displayName string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:          handle.ConversationID(),
		Handle:      handle,
		DisplayName: displayName,
		AccessState: AccessActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Fetchable 是否允许拉取
func (c *Conversation) Fetchable() bool {
	return c.AccessState != AccessInaccessible
}

// Name 返回用于展示的名称
func (c *Conversation) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Handle.String()
}

// MembersDue 成员信息是否需要重新同步
func (c *Conversation) MembersDue(now time.Time, interval time.Duration) bool {
	if c.MembersSyncedAt == nil {
		return true
	}
	return now.Sub(*c.MembersSyncedAt) >= interval
}

// RemoteConversation 远端枚举得到的会话
type RemoteConversation struct {
	Handle Handle
	Title  string
}

// ReconcileResult 会话对账结果
type ReconcileResult struct {
	Inserted     []int64
	Updated      []int64
	Inaccessible []int64 // 本次新标记为不可访问的会话
}
