package monitor

import (
	"context"
	"time"
)

// HistoryPageSize 单次历史请求的消息数
const HistoryPageSize = 100

// ProtocolClient 远端协议端口
// 只暴露只读操作，任何会产生已读/送达回执的调用都不在此接口内
type ProtocolClient interface {
	// ListConversations 枚举当前可访问的群组和频道
	ListConversations(ctx context.Context) ([]*RemoteConversation, error)
	// ResolveHandle 重新解析单个会话的句柄
	ResolveHandle(ctx context.Context, conversationID int64) (Handle, error)
	// GetHistory 返回 ID 严格大于 after 的最多 limit 条消息
	GetHistory(ctx context.Context, handle Handle, after int64, limit int) ([]*Message, error)
	// GetMembers 返回一页成员
	GetMembers(ctx context.Context, handle Handle, offset, limit int) (*MemberPage, error)
	// GetUserBio 读取用户资料中的简介
	GetUserBio(ctx context.Context, userID, accessHash int64) (string, error)
}

// InferenceClient 推理服务端口
type InferenceClient interface {
	Analyze(ctx context.Context, req *AnalysisRequest) (*AnalysisResult, error)
}

// VectorIndex 嵌入向量的二级相似度索引
type VectorIndex interface {
	Upsert(ctx context.Context, conversationID int64, msgs []*Message) error
	Query(ctx context.Context, vector []float32, limit int, excludeConversation int64) ([]*Neighbor, error)
}

// Clock 可注入的时钟
type Clock interface {
	Now() time.Time
	// Sleep 等待 d，ctx 取消时提前返回 ctx.Err()
	Sleep(ctx context.Context, d time.Duration) error
}
