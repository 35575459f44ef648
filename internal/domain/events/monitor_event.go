package events

import "time"

// CycleEvent 调度周期事件
type CycleEvent struct {
	EventType     EventType `json:"type"`
	CycleID       string    `json:"cycle_id"`
	Conversations int       `json:"conversations,omitempty"`
	Fetched       int       `json:"fetched,omitempty"`
	Analyzed      int       `json:"analyzed,omitempty"`
	Failed        int       `json:"failed,omitempty"`
	Duration      string    `json:"duration,omitempty"`
	EventTime     time.Time `json:"time"`
}

// Type 实现 Event 接口
func (e *CycleEvent) Type() EventType { return e.EventType }

// Timestamp 实现 Event 接口
func (e *CycleEvent) Timestamp() time.Time { return e.EventTime }

// ConversationFailedEvent 单个会话处理失败
// Kind 取值与 monitor.ErrorKind 一致
type ConversationFailedEvent struct {
	CycleID        string    `json:"cycle_id,omitempty"`
	ConversationID int64     `json:"conversation_id"`
	Stage          string    `json:"stage"` // fetch/analyze/members/refresh
	Kind           string    `json:"kind"`
	Assumed        bool      `json:"assumed,omitempty"`
	Error          string    `json:"error"`
	EventTime      time.Time `json:"time"`
}

// Type 实现 Event 接口
func (e *ConversationFailedEvent) Type() EventType { return ConversationFailed }

// Timestamp 实现 Event 接口
func (e *ConversationFailedEvent) Timestamp() time.Time { return e.EventTime }

// AccessStateChangedEvent 访问状态变化
type AccessStateChangedEvent struct {
	ConversationID int64     `json:"conversation_id"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Reason         string    `json:"reason,omitempty"`
	EventTime      time.Time `json:"time"`
}

// Type 实现 Event 接口
func (e *AccessStateChangedEvent) Type() EventType { return AccessStateChanged }

// Timestamp 实现 Event 接口
func (e *AccessStateChangedEvent) Timestamp() time.Time { return e.EventTime }

// UrgentMessage 紧急消息摘要
type UrgentMessage struct {
	MessageID int64     `json:"message_id"`
	Preview   string    `json:"preview"`
	SentAt    time.Time `json:"sent_at"`
}

// UrgentMessagesEvent 发现紧急消息
type UrgentMessagesEvent struct {
	ConversationID   int64           `json:"conversation_id"`
	ConversationName string          `json:"conversation_name"`
	Messages         []UrgentMessage `json:"messages"`
	EventTime        time.Time       `json:"time"`
}

// Type 实现 Event 接口
func (e *UrgentMessagesEvent) Type() EventType { return UrgentMessagesFound }

// Timestamp 实现 Event 接口
func (e *UrgentMessagesEvent) Timestamp() time.Time { return e.EventTime }

// DuplicatesEvent 重复话题检测结果
type DuplicatesEvent struct {
	CycleID   string    `json:"cycle_id,omitempty"`
	Clusters  [][]int64 `json:"clusters"`
	EventTime time.Time `json:"time"`
}

// Type 实现 Event 接口
func (e *DuplicatesEvent) Type() EventType { return DuplicatesDetected }

// Timestamp 实现 Event 接口
func (e *DuplicatesEvent) Timestamp() time.Time { return e.EventTime }

// ConfigReloadedEvent 配置文件重新加载
type ConfigReloadedEvent struct {
	Path      string    `json:"path"`
	EventTime time.Time `json:"time"`
}

// Type 实现 Event 接口
func (e *ConfigReloadedEvent) Type() EventType { return ConfigReloaded }

// Timestamp 实现 Event 接口
func (e *ConfigReloadedEvent) Timestamp() time.Time { return e.EventTime }
