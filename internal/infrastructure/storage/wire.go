package storage

import "github.com/google/wire"

// ProviderSet Storage 基础设施层 ProviderSet
var ProviderSet = wire.NewSet(
	ProvideDB,                 // 提供数据库连接
	NewConversationRepository, // 会话仓储
	NewMessageRepository,      // 消息仓储
	NewMemberRepository,       // 成员仓储
	NewEventRepository,        // 事件记录仓储
)
