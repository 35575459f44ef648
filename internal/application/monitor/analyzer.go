package monitor

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/chatwatch/backend/internal/domain/events"
	domainMonitor "github.com/chatwatch/backend/internal/domain/monitor"
	"github.com/chatwatch/backend/internal/infrastructure/log"
)

// urgentPreviewRunes 紧急消息预览长度
const urgentPreviewRunes = 50

// AnalyzerConfig 分析配置
type AnalyzerConfig struct {
	BatchSize   int
	Concurrency int // 所有工作协程共享的推理并发上限
}

// AnalysisOutcome 单个会话一次分析的结果
type AnalysisOutcome struct {
	Pending       int    // 开始时待分析的消息数
	Batches       int    // 批次数
	FailedBatches int    // 失败批次数，其中的消息保持待分析
	Analyzed      int    // 本次写入分析结果的消息数
	Urgent        int    // 本次发现的紧急消息数
	Category      string // 最后一个成功批次的分类
	SuggestedName string
}

// Analyzer 分析引擎
type Analyzer struct {
	rt        *Runtime
	sem       *semaphore.Weighted
	batchSize int
	logger    *slog.Logger
}

// NewAnalyzer 创建分析引擎
func NewAnalyzer(rt *Runtime, cfg AnalyzerConfig) *Analyzer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > domainMonitor.MaxBatchSize {
		cfg.BatchSize = domainMonitor.MaxBatchSize
	}
	return &Analyzer{
		rt:        rt,
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		batchSize: cfg.BatchSize,
		logger:    log.NewModuleLogger("monitor", "analyzer"),
	}
}

// AnalyzeConversation 分析会话内所有待分析消息
// 失败批次单独记录，不影响后续批次；返回的错误只包括存储失败和取消
func (a *Analyzer) AnalyzeConversation(ctx context.Context, conv *domainMonitor.Conversation) (*AnalysisOutcome, error) {
	outcome := &AnalysisOutcome{}
	logger := log.FromContext(ctx, a.logger).With("conversation_id", conv.ID)

	pending, err := a.rt.Messages.PendingAnalysis(ctx, conv.ID)
	if err != nil {
		return outcome, domainMonitor.NewError(domainMonitor.KindStorageFailure, "pending", conv.ID, err)
	}
	outcome.Pending = len(pending)
	if len(pending) == 0 {
		return outcome, nil
	}

	batches := domainMonitor.SplitBatches(conv.ID, pending, a.batchSize)
	outcome.Batches = len(batches)

	var urgent []events.UrgentMessage
	for _, batch := range batches {
		res, err := a.analyzeBatch(ctx, conv, batch)
		if err != nil {
			if ctx.Err() != nil {
				return outcome, ctx.Err()
			}
			outcome.FailedBatches++
			a.rt.RecordFailure(ctx, StageAnalyze, conv.ID, err)
			continue
		}

		analyses := res.Analyses(batch)
		n, err := a.rt.Messages.SaveAnalysis(ctx, conv.ID, analyses)
		if err != nil {
			if ctx.Err() != nil {
				return outcome, ctx.Err()
			}
			return outcome, domainMonitor.NewError(domainMonitor.KindStorageFailure, "save_analysis", conv.ID, err)
		}
		outcome.Analyzed += n
		outcome.Category = res.Category
		outcome.SuggestedName = res.SuggestedName

		for i, m := range batch.Messages {
			m.Urgency = domainMonitor.UrgencyOf(res.Urgent[i])
			m.Embedding = res.Embeddings[i]
			if res.Urgent[i] {
				urgent = append(urgent, events.UrgentMessage{
					MessageID: m.MessageID,
					Preview:   m.Preview(urgentPreviewRunes),
					SentAt:    m.Timestamp,
				})
			}
		}
		a.mirror(ctx, logger, conv.ID, batch.Messages)
	}

	if outcome.Category != "" {
		if err := a.rt.Conversations.SetAnalysis(ctx, conv.ID, outcome.Category, outcome.SuggestedName); err != nil {
			return outcome, domainMonitor.NewError(domainMonitor.KindStorageFailure, "set_analysis", conv.ID, err)
		}
		conv.Category = outcome.Category
		conv.SuggestedName = outcome.SuggestedName
	}

	outcome.Urgent = len(urgent)
	if len(urgent) > 0 {
		a.rt.Publish(&events.UrgentMessagesEvent{
			ConversationID:   conv.ID,
			ConversationName: conv.Name(),
			Messages:         urgent,
			EventTime:        a.rt.Clock.Now(),
		})
	}

	logger.Info("Conversation analyzed",
		"pending", outcome.Pending,
		"analyzed", outcome.Analyzed,
		"failed_batches", outcome.FailedBatches,
		"urgent", outcome.Urgent,
		"category", outcome.Category,
	)
	return outcome, nil
}

// analyzeBatch 调用推理服务并校验结果形状
func (a *Analyzer) analyzeBatch(ctx context.Context, conv *domainMonitor.Conversation, batch *domainMonitor.AnalysisBatch) (*domainMonitor.AnalysisResult, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer a.sem.Release(1)

	res, err := a.rt.Inference.Analyze(ctx, &domainMonitor.AnalysisRequest{
		ConversationName: conv.Name(),
		Texts:            batch.Texts(),
	})
	if err != nil {
		var de *domainMonitor.Error
		if errors.As(err, &de) && de.Kind == domainMonitor.KindAnalysisFailure {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domainMonitor.NewError(domainMonitor.KindAnalysisFailure, "analyze", conv.ID, err)
	}
	if err := res.Validate(len(batch.Messages)); err != nil {
		return nil, domainMonitor.NewError(domainMonitor.KindAnalysisFailure, "analyze", conv.ID, err)
	}
	return res, nil
}

// mirror 把嵌入写入二级向量索引，失败只记日志
func (a *Analyzer) mirror(ctx context.Context, logger *slog.Logger, conversationID int64, msgs []*domainMonitor.Message) {
	if a.rt.Index == nil {
		return
	}
	if err := a.rt.Index.Upsert(ctx, conversationID, msgs); err != nil {
		logger.Warn("Failed to mirror embeddings to vector index", "count", len(msgs), "error", err)
	}
}
