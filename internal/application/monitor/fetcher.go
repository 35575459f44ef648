package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	domainMonitor "github.com/chatwatch/backend/internal/domain/monitor"
	"github.com/chatwatch/backend/internal/infrastructure/log"
)

// FetcherConfig 拉取配置
type FetcherConfig struct {
	PageSize           int
	RequestTimeout     time.Duration
	BackoffBase        time.Duration
	BackoffCap         time.Duration
	BackoffMaxAttempts int
}

// FetchResult 单个会话一次拉取的结果
type FetchResult struct {
	Fetched   int   // 远端返回的消息数
	Inserted  int   // 新写入的消息数
	Pages     int   // 成功提交的页数
	Cursor    int64 // 提交后的游标
	Retries   int   // Transient 重试次数
	Refreshed bool  // 是否刷新过句柄
}

// Fetcher 静默拉取客户端
// 只调用只读协议接口，每页消息和游标在同一事务内提交
type Fetcher struct {
	rt       *Runtime
	registry *Registry
	cfg      FetcherConfig

	mu       sync.Mutex
	backoffs map[int64]*domainMonitor.Backoff

	logger *slog.Logger
}

// NewFetcher 创建拉取客户端
func NewFetcher(rt *Runtime, registry *Registry, cfg FetcherConfig) *Fetcher {
	if cfg.PageSize <= 0 || cfg.PageSize > domainMonitor.HistoryPageSize {
		cfg.PageSize = domainMonitor.HistoryPageSize
	}
	return &Fetcher{
		rt:       rt,
		registry: registry,
		cfg:      cfg,
		backoffs: make(map[int64]*domainMonitor.Backoff),
		logger:   log.NewModuleLogger("monitor", "fetcher"),
	}
}

// Backoff 返回会话的退避状态，不存在时创建
func (f *Fetcher) Backoff(conversationID int64) *domainMonitor.Backoff {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.backoffs[conversationID]
	if !ok {
		b = domainMonitor.NewBackoff(f.cfg.BackoffBase, f.cfg.BackoffCap, f.cfg.BackoffMaxAttempts)
		f.backoffs[conversationID] = b
	}
	return b
}

// FetchNew 拉取游标之后的所有新消息
// 每页在一个事务内写入并推进游标，失败时游标停留在最后一次成功提交的位置
func (f *Fetcher) FetchNew(ctx context.Context, conv *domainMonitor.Conversation) (*FetchResult, error) {
	result := &FetchResult{Cursor: conv.Cursor}
	if !conv.Fetchable() {
		return result, domainMonitor.NewError(domainMonitor.KindPermanent, "fetch", conv.ID, errors.New("conversation is inaccessible"))
	}

	logger := log.FromContext(ctx, f.logger).With("conversation_id", conv.ID)
	bo := f.Backoff(conv.ID)
	if !bo.Ready(f.rt.Clock.Now()) {
		return result, domainMonitor.NewError(domainMonitor.KindTransient, "fetch", conv.ID,
			fmt.Errorf("backing off until %s", bo.NextEligible().Format(time.RFC3339)))
	}

	handle := f.registry.Handle(conv)
	state := conv.AccessState
	cursor := conv.Cursor
	refreshed := false
	tries := 0

	for {
		page, err := f.getPage(ctx, handle, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			err = f.classify(logger, conv.ID, err)

			switch domainMonitor.KindOf(err) {
			case domainMonitor.KindTransient:
				tries++
				delay := bo.Failure(f.rt.Clock.Now(), domainMonitor.RetryAfterOf(err))
				if tries >= bo.MaxAttempts {
					logger.Warn("Transient failures exhausted", "attempts", tries, "error", err)
					return result, err
				}
				result.Retries++
				logger.Debug("Transient failure, backing off", "attempt", tries, "delay", delay, "error", err)
				if err := f.rt.Clock.Sleep(ctx, delay); err != nil {
					return result, err
				}
				continue

			case domainMonitor.KindStaleHandle:
				if refreshed {
					return result, f.markInaccessible(ctx, conv.ID, state, err)
				}
				refreshed = true
				result.Refreshed = true
				if state != domainMonitor.AccessStale {
					if serr := f.setState(ctx, conv.ID, state, domainMonitor.AccessStale, "stale handle"); serr != nil {
						return result, serr
					}
					state = domainMonitor.AccessStale
				}

				h, rerr := f.registry.ResolveHandle(ctx, conv.ID)
				if rerr != nil {
					if ctx.Err() != nil {
						return result, ctx.Err()
					}
					rerr = f.classify(logger, conv.ID, rerr)
					switch domainMonitor.KindOf(rerr) {
					case domainMonitor.KindStaleHandle, domainMonitor.KindPermanent:
						return result, f.markInaccessible(ctx, conv.ID, state, rerr)
					default:
						return result, rerr
					}
				}
				handle = h
				continue

			default:
				return result, f.markInaccessible(ctx, conv.ID, state, err)
			}
		}

		bo.Success()
		refreshed = false
		if state == domainMonitor.AccessStale {
			if serr := f.setState(ctx, conv.ID, state, domainMonitor.AccessActive, "handle refreshed"); serr != nil {
				return result, serr
			}
			state = domainMonitor.AccessActive
		}

		if len(page) == 0 {
			break
		}

		next := domainMonitor.MaxID(page, cursor)
		inserted, err := f.rt.Messages.AppendBatch(ctx, conv.ID, page, next)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			return result, domainMonitor.NewError(domainMonitor.KindStorageFailure, "append", conv.ID, err)
		}

		cursor = next
		conv.Cursor = next
		result.Cursor = next
		result.Pages++
		result.Fetched += len(page)
		result.Inserted += inserted

		if len(page) < f.cfg.PageSize {
			break
		}
	}

	conv.AccessState = state
	if result.Fetched > 0 {
		logger.Info("Fetched new messages",
			"fetched", result.Fetched,
			"inserted", result.Inserted,
			"pages", result.Pages,
			"cursor", result.Cursor,
		)
	}
	return result, nil
}

// getPage 请求一页历史，单次请求受 RequestTimeout 约束
func (f *Fetcher) getPage(ctx context.Context, handle domainMonitor.Handle, after int64) ([]*domainMonitor.Message, error) {
	reqCtx := ctx
	if f.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, f.cfg.RequestTimeout)
		defer cancel()
	}

	msgs, err := f.rt.Protocol.GetHistory(reqCtx, handle, after, f.cfg.PageSize)
	if err != nil {
		return nil, err
	}

	// 只保留游标之后的消息，按 ID 升序
	page := make([]*domainMonitor.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.MessageID > after {
			page = append(page, m)
		}
	}
	domainMonitor.SortByID(page)
	return page, nil
}

// classify 为协议错误补充会话 ID；未分类错误按 Permanent 处理并标记为推断
func (f *Fetcher) classify(logger *slog.Logger, conversationID int64, err error) error {
	var de *domainMonitor.Error
	if errors.As(err, &de) {
		if de.ConversationID == 0 {
			cp := *de
			cp.ConversationID = conversationID
			return &cp
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domainMonitor.NewError(domainMonitor.KindTransient, "fetch", conversationID, err)
	}
	logger.Warn("Unclassified protocol error, treating as permanent", "assumed", true, "error", err)
	e := domainMonitor.NewError(domainMonitor.KindPermanent, "fetch", conversationID, err)
	e.Assumed = true
	return e
}

func (f *Fetcher) setState(ctx context.Context, conversationID int64, from, to domainMonitor.AccessState, reason string) error {
	if err := f.rt.Conversations.SetAccessState(ctx, conversationID, to); err != nil {
		return domainMonitor.NewError(domainMonitor.KindStorageFailure, "set_access_state", conversationID, err)
	}
	f.rt.RecordStateChange(ctx, conversationID, from, to, reason)
	return nil
}

// markInaccessible 标记会话不可访问并返回原始错误
func (f *Fetcher) markInaccessible(ctx context.Context, conversationID int64, from domainMonitor.AccessState, cause error) error {
	if serr := f.setState(ctx, conversationID, from, domainMonitor.AccessInaccessible, cause.Error()); serr != nil {
		return errors.Join(cause, serr)
	}
	f.registry.Forget(conversationID)
	return cause
}
