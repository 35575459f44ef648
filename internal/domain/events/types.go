// Package events 定义领域事件类型和接口
// 用于调度周期、失败记录和配置变更的内部通知
package events

import "time"

// EventType 事件类型标识
type EventType string

// 调度周期相关事件类型
const (
	// CycleStarted 周期开始
	CycleStarted EventType = "cycle.started"
	// CycleCompleted 周期结束
	CycleCompleted EventType = "cycle.completed"
	// CycleSkipped 周期因已有周期运行而被丢弃
	CycleSkipped EventType = "cycle.skipped"
)

// 会话相关事件类型
const (
	// ConversationFailed 单个会话处理失败（非致命）
	ConversationFailed EventType = "conversation.failed"
	// AccessStateChanged 会话访问状态变化
	AccessStateChanged EventType = "conversation.access_state_changed"
	// UrgentMessagesFound 发现紧急消息
	UrgentMessagesFound EventType = "messages.urgent_found"
	// DuplicatesDetected 重复话题检测完成
	DuplicatesDetected EventType = "duplicates.detected"
)

// 配置相关事件类型
const (
	// ConfigReloaded 配置文件重新加载
	ConfigReloaded EventType = "config.reloaded"
)

// AllTypes 返回所有事件类型，用于统一订阅
func AllTypes() []EventType {
	return []EventType{
		CycleStarted,
		CycleCompleted,
		CycleSkipped,
		ConversationFailed,
		AccessStateChanged,
		UrgentMessagesFound,
		DuplicatesDetected,
		ConfigReloaded,
	}
}

// Event 领域事件接口
// 所有事件类型都必须实现此接口
type Event interface {
	// Type 返回事件类型
	Type() EventType
	// Timestamp 返回事件发生时间
	Timestamp() time.Time
}
