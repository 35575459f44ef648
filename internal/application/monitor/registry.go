package monitor

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	domainMonitor "github.com/chatwatch/backend/internal/domain/monitor"
	"github.com/chatwatch/backend/internal/infrastructure/log"
)

// DefaultHandleCacheSize 句柄缓存容量
const DefaultHandleCacheSize = 1024

// Registry 远端句柄注册表
// 负责会话对账和句柄刷新，句柄缓存在 LRU 中
type Registry struct {
	rt     *Runtime
	cache  *lru.Cache[int64, domainMonitor.Handle]
	logger *slog.Logger
}

// NewRegistry 创建句柄注册表
func NewRegistry(rt *Runtime, cacheSize int) (*Registry, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultHandleCacheSize
	}
	cache, err := lru.New[int64, domainMonitor.Handle](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create handle cache: %w", err)
	}
	return &Registry{
		rt:     rt,
		cache:  cache,
		logger: log.NewModuleLogger("monitor", "registry"),
	}, nil
}

// Refresh 枚举远端会话并在一个事务内对账，返回所有已知会话
// 远端不再返回的会话被标记为不可访问，不会删除
func (r *Registry) Refresh(ctx context.Context) ([]*domainMonitor.Conversation, error) {
	remote, err := r.rt.Protocol.ListConversations(ctx)
	if err != nil {
		return nil, err
	}

	previous := make(map[int64]domainMonitor.AccessState)
	if known, err := r.rt.Conversations.List(ctx); err == nil {
		for _, c := range known {
			previous[c.ID] = c.AccessState
		}
	}

	result, err := r.rt.Conversations.Reconcile(ctx, remote)
	if err != nil {
		return nil, domainMonitor.NewError(domainMonitor.KindStorageFailure, "reconcile", 0, err)
	}

	for _, rc := range remote {
		r.cache.Add(rc.Handle.ConversationID(), rc.Handle)
	}
	for _, id := range result.Inaccessible {
		r.cache.Remove(id)
		from, ok := previous[id]
		if !ok {
			from = domainMonitor.AccessActive
		}
		r.rt.RecordStateChange(ctx, id, from, domainMonitor.AccessInaccessible, "not listed by remote")
	}

	log.FromContext(ctx, r.logger).Info("Conversations reconciled",
		"remote", len(remote),
		"inserted", len(result.Inserted),
		"updated", len(result.Updated),
		"inaccessible", len(result.Inaccessible),
	)

	convs, err := r.rt.Conversations.List(ctx)
	if err != nil {
		return nil, domainMonitor.NewError(domainMonitor.KindStorageFailure, "list", 0, err)
	}
	return convs, nil
}

// Handle 返回会话当前句柄，优先使用缓存
func (r *Registry) Handle(conv *domainMonitor.Conversation) domainMonitor.Handle {
	if h, ok := r.cache.Get(conv.ID); ok {
		return h
	}
	return conv.Handle
}

// ResolveHandle 重新解析单个会话的句柄并写回存储和缓存
func (r *Registry) ResolveHandle(ctx context.Context, conversationID int64) (domainMonitor.Handle, error) {
	r.cache.Remove(conversationID)

	h, err := r.rt.Protocol.ResolveHandle(ctx, conversationID)
	if err != nil {
		return domainMonitor.Handle{}, err
	}
	if err := r.rt.Conversations.UpdateHandle(ctx, conversationID, h); err != nil {
		return domainMonitor.Handle{}, domainMonitor.NewError(domainMonitor.KindStorageFailure, "update_handle", conversationID, err)
	}
	r.cache.Add(conversationID, h)

	log.FromContext(ctx, r.logger).Debug("Handle resolved", "conversation_id", conversationID, "handle", h.String())
	return h, nil
}

// Reactivate 运维手动恢复不可访问的会话
func (r *Registry) Reactivate(ctx context.Context, conversationID int64) (*domainMonitor.Conversation, error) {
	conv, err := r.rt.Conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.AccessState == domainMonitor.AccessActive {
		return conv, nil
	}
	if err := r.rt.Conversations.SetAccessState(ctx, conversationID, domainMonitor.AccessActive); err != nil {
		return nil, err
	}
	r.rt.RecordStateChange(ctx, conversationID, conv.AccessState, domainMonitor.AccessActive, "reactivated by operator")
	conv.AccessState = domainMonitor.AccessActive
	return conv, nil
}

// Forget 移除缓存的句柄
func (r *Registry) Forget(conversationID int64) {
	r.cache.Remove(conversationID)
}
