package monitor

import (
	"context"
	"time"
)

// ConversationRepository 会话仓储接口
type ConversationRepository interface {
	// Reconcile 在一个事务内对账远端会话列表
	Reconcile(ctx context.Context, remote []*RemoteConversation) (*ReconcileResult, error)
	Get(ctx context.Context, id int64) (*Conversation, error)
	List(ctx context.Context) ([]*Conversation, error)
	UpdateHandle(ctx context.Context, id int64, handle Handle) error
	SetAccessState(ctx context.Context, id int64, state AccessState) error
	// SetAnalysis 覆盖分类和建议名称（后写者胜）
	SetAnalysis(ctx context.Context, id int64, category, suggestedName string) error
	MarkMembersSynced(ctx context.Context, id int64, at time.Time) error
}

// MessageRepository 消息仓储接口
type MessageRepository interface {
	// AppendBatch 在一个事务内插入消息（已存在则忽略）并推进游标
	AppendBatch(ctx context.Context, conversationID int64, msgs []*Message, cursor int64) (int, error)
	// PendingAnalysis 返回待分析消息（有文本、未分析），按 ID 升序
	PendingAnalysis(ctx context.Context, conversationID int64) ([]*Message, error)
	// SaveAnalysis 在一个事务内写入分析结果，已分析的消息不会被覆盖
	SaveAnalysis(ctx context.Context, conversationID int64, results []MessageAnalysis) (int, error)
	// ForEachEmbedding 遍历所有已存储的嵌入向量
	ForEachEmbedding(ctx context.Context, fn func(conversationID int64, embedding []float32) error) error
	// Nearest 精确余弦最近邻
	Nearest(ctx context.Context, query []float32, limit int, excludeConversation int64) ([]*Neighbor, error)
	Get(ctx context.Context, conversationID, messageID int64) (*Message, error)
	UrgentMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error)
	PendingCounts(ctx context.Context) (map[int64]int, error)
	Count(ctx context.Context, conversationID int64) (int, error)
}

// MemberRepository 成员仓储接口
type MemberRepository interface {
	// ReplaceMembers 整体替换会话成员；Bio/LastSeen 为空时保留已存储的值
	ReplaceMembers(ctx context.Context, conversationID int64, members []*Member) error
	CountMembers(ctx context.Context) (map[int64]int, error)
	// ListMembers 会话成员，按名称排序
	ListMembers(ctx context.Context, conversationID int64) ([]*Member, error)
	// ConversationsOfUser 用户所在的会话 ID，升序
	ConversationsOfUser(ctx context.Context, userID int64) ([]int64, error)
	// SharedMembers 至少出现在 minConversations 个会话中的成员，按会话数降序
	SharedMembers(ctx context.Context, minConversations, limit int) ([]*SharedMember, error)
}

// EventRecord 持久化的结构化事件
type EventRecord struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	ConversationID int64     `json:"conversation_id,omitempty"`
	Kind           ErrorKind `json:"kind,omitempty"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

// EventRepository 事件记录仓储接口
type EventRepository interface {
	Save(ctx context.Context, record *EventRecord) error
	Recent(ctx context.Context, limit int) ([]*EventRecord, error)
}
