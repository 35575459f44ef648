// Package monitor 实现会话监控流水线：句柄注册、静默拉取、分析、重复检测和调度
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatwatch/backend/internal/domain/events"
	domainMonitor "github.com/chatwatch/backend/internal/domain/monitor"
	"github.com/chatwatch/backend/internal/infrastructure/log"
)

// 失败发生的阶段
const (
	StageRefresh = "refresh"
	StageFetch   = "fetch"
	StageAnalyze = "analyze"
	StageMembers = "members"
	StageDetect  = "detect"
)

// Runtime 进程级上下文
// 持有所有协作者，显式传递给流水线各组件；Close 按注册的逆序释放资源
type Runtime struct {
	Conversations domainMonitor.ConversationRepository
	Messages      domainMonitor.MessageRepository
	Members       domainMonitor.MemberRepository
	Events        domainMonitor.EventRepository
	Protocol      domainMonitor.ProtocolClient
	Inference     domainMonitor.InferenceClient
	Index         domainMonitor.VectorIndex // 可能为 nil
	Clock         domainMonitor.Clock
	Bus           events.EventBus // 可能为 nil

	mu      sync.Mutex
	closers []func() error
	closed  bool
	logger  *slog.Logger
}

// NewRuntime 创建运行时上下文
func NewRuntime(
	conversations domainMonitor.ConversationRepository,
	messages domainMonitor.MessageRepository,
	members domainMonitor.MemberRepository,
	eventRepo domainMonitor.EventRepository,
	protocol domainMonitor.ProtocolClient,
	inference domainMonitor.InferenceClient,
	index domainMonitor.VectorIndex,
	clock domainMonitor.Clock,
	bus events.EventBus,
) *Runtime {
	return &Runtime{
		Conversations: conversations,
		Messages:      messages,
		Members:       members,
		Events:        eventRepo,
		Protocol:      protocol,
		Inference:     inference,
		Index:         index,
		Clock:         clock,
		Bus:           bus,
		logger:        log.NewModuleLogger("monitor", "runtime"),
	}
}

// OnClose 注册关闭时执行的清理函数
func (r *Runtime) OnClose(fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, fn)
}

// Close 逆序释放资源，重复调用无副作用
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Publish 发布事件，未配置事件总线时忽略
func (r *Runtime) Publish(e events.Event) {
	if r.Bus == nil {
		return
	}
	r.Bus.Publish(e)
}

// RecordFailure 记录非致命失败：发布事件并持久化
func (r *Runtime) RecordFailure(ctx context.Context, stage string, conversationID int64, err error) {
	if err == nil {
		return
	}
	kind := domainMonitor.KindOf(err)
	var assumed bool
	var de *domainMonitor.Error
	if errors.As(err, &de) {
		assumed = de.Assumed
	}
	now := r.Clock.Now()

	log.FromContext(ctx, r.logger).Warn("Conversation failed",
		"stage", stage,
		"conversation_id", conversationID,
		"kind", kind,
		"assumed", assumed,
		"error", err,
	)

	r.Publish(&events.ConversationFailedEvent{
		CycleID:        log.CycleIDFromContext(ctx),
		ConversationID: conversationID,
		Stage:          stage,
		Kind:           string(kind),
		Assumed:        assumed,
		Error:          err.Error(),
		EventTime:      now,
	})

	r.saveEvent(ctx, &domainMonitor.EventRecord{
		Type:           string(events.ConversationFailed),
		ConversationID: conversationID,
		Kind:           kind,
		Message:        fmt.Sprintf("%s: %v", stage, err),
		CreatedAt:      now,
	})
}

// RecordStateChange 记录访问状态变化
func (r *Runtime) RecordStateChange(ctx context.Context, conversationID int64, from, to domainMonitor.AccessState, reason string) {
	now := r.Clock.Now()
	log.FromContext(ctx, r.logger).Info("Access state changed",
		"conversation_id", conversationID,
		"from", from,
		"to", to,
		"reason", reason,
	)

	r.Publish(&events.AccessStateChangedEvent{
		ConversationID: conversationID,
		From:           string(from),
		To:             string(to),
		Reason:         reason,
		EventTime:      now,
	})

	r.saveEvent(ctx, &domainMonitor.EventRecord{
		Type:           string(events.AccessStateChanged),
		ConversationID: conversationID,
		Message:        fmt.Sprintf("%s -> %s: %s", from, to, reason),
		CreatedAt:      now,
	})
}

// saveEvent 持久化事件记录，失败只记日志
func (r *Runtime) saveEvent(ctx context.Context, record *domainMonitor.EventRecord) {
	if r.Events == nil {
		return
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	// 取消后仍然写入，保证失败可追溯
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.Events.Save(saveCtx, record); err != nil {
		r.logger.Error("Failed to persist event record",
			"type", record.Type,
			"conversation_id", record.ConversationID,
			"error", err,
		)
	}
}
