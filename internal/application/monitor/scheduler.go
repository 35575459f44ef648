package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chatwatch/backend/internal/domain/events"
	domainMonitor "github.com/chatwatch/backend/internal/domain/monitor"
	"github.com/chatwatch/backend/internal/infrastructure/log"
)

// DefaultCycleInterval 默认调度间隔
const DefaultCycleInterval = 30 * time.Minute

// SchedulerConfig 调度配置
type SchedulerConfig struct {
	Interval            time.Duration
	Workers             int
	ConversationTimeout time.Duration
}

// ConversationOutcome 单个会话在一个周期内的处理结果
type ConversationOutcome struct {
	ConversationID int64                   `json:"conversation_id"`
	Name           string                  `json:"name"`
	Stage          string                  `json:"stage,omitempty"` // 失败阶段
	Kind           domainMonitor.ErrorKind `json:"kind,omitempty"`  // 为空表示成功
	Error          string                  `json:"error,omitempty"`
	Fetched        int                     `json:"fetched"`
	Inserted       int                     `json:"inserted"`
	Analyzed       int                     `json:"analyzed"`
	FailedBatches  int                     `json:"failed_batches,omitempty"`
	Urgent         int                     `json:"urgent"`
	Members        int                     `json:"members,omitempty"`
	Cancelled      bool                    `json:"cancelled,omitempty"`
}

// Failed 是否失败
func (o *ConversationOutcome) Failed() bool {
	return o.Kind != ""
}

// CycleReport 一个周期的汇总
type CycleReport struct {
	ID            string                            `json:"id"`
	StartedAt     time.Time                         `json:"started_at"`
	FinishedAt    time.Time                         `json:"finished_at"`
	Conversations int                               `json:"conversations"`
	Outcomes      []*ConversationOutcome            `json:"outcomes"`
	Clusters      []*domainMonitor.DuplicateCluster `json:"clusters"`
	Cancelled     bool                              `json:"cancelled,omitempty"`
}

// Totals 汇总拉取数、分析数和失败数
func (r *CycleReport) Totals() (fetched, analyzed, failed int) {
	for _, o := range r.Outcomes {
		if o == nil {
			continue
		}
		fetched += o.Fetched
		analyzed += o.Analyzed
		if o.Failed() {
			failed++
		}
	}
	return fetched, analyzed, failed
}

// Outcome 返回指定会话的结果
func (r *CycleReport) Outcome(conversationID int64) *ConversationOutcome {
	for _, o := range r.Outcomes {
		if o != nil && o.ConversationID == conversationID {
			return o
		}
	}
	return nil
}

// Scheduler 周期调度
// 同一时刻最多一个周期在运行，周期内会话由有界工作池并行处理
type Scheduler struct {
	rt       *Runtime
	registry *Registry
	fetcher  *Fetcher
	analyzer *Analyzer
	detector *Detector
	members  *MemberSync // 可能为 nil

	workers     int
	convTimeout time.Duration
	interval    atomic.Int64

	running    atomic.Bool
	trigger    chan struct{}
	intervalCh chan time.Duration

	mu           sync.RWMutex
	lastReport   *CycleReport
	lastClusters []*domainMonitor.DuplicateCluster

	logger *slog.Logger
}

// NewScheduler 创建调度器
func NewScheduler(rt *Runtime, registry *Registry, fetcher *Fetcher, analyzer *Analyzer, detector *Detector, members *MemberSync, cfg SchedulerConfig) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCycleInterval
	}
	s := &Scheduler{
		rt:          rt,
		registry:    registry,
		fetcher:     fetcher,
		analyzer:    analyzer,
		detector:    detector,
		members:     members,
		workers:     cfg.Workers,
		convTimeout: cfg.ConversationTimeout,
		trigger:     make(chan struct{}, 1),
		intervalCh:  make(chan time.Duration, 1),
		logger:      log.NewModuleLogger("monitor", "scheduler"),
	}
	s.interval.Store(int64(cfg.Interval))
	return s
}

// Interval 当前调度间隔
func (s *Scheduler) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// SetInterval 修改调度间隔，下一次计时生效
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 || d == s.Interval() {
		return
	}
	s.interval.Store(int64(d))
	select {
	case s.intervalCh <- d:
	default:
		// 已有未处理的修改，Run 循环会读取最新值
	}
}

// Running 是否有周期在运行
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Trigger 请求尽快运行一个周期，已有周期运行时返回 ErrCycleInProgress
func (s *Scheduler) Trigger() error {
	if s.running.Load() {
		return domainMonitor.ErrCycleInProgress
	}
	select {
	case s.trigger <- struct{}{}:
	default:
	}
	return nil
}

// LastReport 最近一次完成的周期
func (s *Scheduler) LastReport() *CycleReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReport
}

// LastClusters 最近一次检测到的重复话题
func (s *Scheduler) LastClusters() []*domainMonitor.DuplicateCluster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastClusters
}

// Run 立即运行一个周期，之后按间隔运行，直到 ctx 取消
// 周期运行期间到期的计时被丢弃，不会在周期结束后补跑
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler started", "interval", s.Interval(), "workers", s.workers)
	s.runOnce(ctx)

	ticker := time.NewTicker(s.Interval())
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			s.logger.Info("Scheduler stopped")
			return nil
		}
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
			s.dropPendingTick(ticker)
		case <-s.trigger:
			s.runOnce(ctx)
			s.dropPendingTick(ticker)
		case <-s.intervalCh:
			d := s.Interval()
			ticker.Reset(d)
			s.logger.Info("Scheduler interval changed", "interval", d)
		}
	}
}

// dropPendingTick 丢弃周期运行期间到期的计时
func (s *Scheduler) dropPendingTick(ticker *time.Ticker) {
	select {
	case <-ticker.C:
		s.logger.Debug("Tick dropped, cycle ran past the interval")
	default:
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	// select 在取消和计时同时就绪时随机选择
	if ctx.Err() != nil {
		return
	}
	if _, err := s.RunCycle(ctx); err != nil {
		switch {
		case errors.Is(err, domainMonitor.ErrCycleInProgress):
			s.logger.Debug("Tick dropped, cycle in progress")
		case ctx.Err() != nil:
			s.logger.Info("Cycle cancelled")
		default:
			s.logger.Error("Cycle failed", "error", err)
		}
	}
}

// RunCycle 运行一个完整周期：刷新、拉取、分析、检测
// 已有周期运行时立即返回 ErrCycleInProgress
func (s *Scheduler) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.rt.Publish(&events.CycleEvent{EventType: events.CycleSkipped, EventTime: s.rt.Clock.Now()})
		return nil, domainMonitor.ErrCycleInProgress
	}
	defer s.running.Store(false)

	report := &CycleReport{ID: uuid.NewString(), StartedAt: s.rt.Clock.Now()}
	ctx = log.WithCycleID(ctx, report.ID)
	logger := log.FromContext(ctx, s.logger)

	logger.Info("Cycle started")
	s.rt.Publish(&events.CycleEvent{EventType: events.CycleStarted, CycleID: report.ID, EventTime: report.StartedAt})

	convs, err := s.registry.Refresh(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return s.finish(ctx, report, ctx.Err())
		}
		// 枚举失败时使用已知会话继续
		s.rt.RecordFailure(ctx, StageRefresh, 0, err)
		convs, err = s.rt.Conversations.List(ctx)
		if err != nil {
			return s.finish(ctx, report, domainMonitor.NewError(domainMonitor.KindStorageFailure, "list", 0, err))
		}
	}

	var targets []*domainMonitor.Conversation
	for _, c := range convs {
		if c.Fetchable() {
			targets = append(targets, c)
		}
	}
	report.Conversations = len(targets)
	report.Outcomes = make([]*ConversationOutcome, len(targets))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, conv := range targets {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			report.Outcomes[i] = s.processConversation(ctx, conv)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return s.finish(ctx, report, ctx.Err())
	}

	clusters, err := s.detector.Detect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return s.finish(ctx, report, ctx.Err())
		}
		s.rt.RecordFailure(ctx, StageDetect, 0, err)
	} else {
		report.Clusters = clusters
		s.mu.Lock()
		s.lastClusters = clusters
		s.mu.Unlock()

		ids := make([][]int64, len(clusters))
		for i, c := range clusters {
			ids[i] = c.ConversationIDs
		}
		s.rt.Publish(&events.DuplicatesEvent{CycleID: report.ID, Clusters: ids, EventTime: s.rt.Clock.Now()})
	}

	return s.finish(ctx, report, nil)
}

// finish 结束周期并发布汇总事件
func (s *Scheduler) finish(ctx context.Context, report *CycleReport, err error) (*CycleReport, error) {
	report.FinishedAt = s.rt.Clock.Now()
	report.Cancelled = ctx.Err() != nil
	fetched, analyzed, failed := report.Totals()
	duration := report.FinishedAt.Sub(report.StartedAt)

	s.rt.Publish(&events.CycleEvent{
		EventType:     events.CycleCompleted,
		CycleID:       report.ID,
		Conversations: report.Conversations,
		Fetched:       fetched,
		Analyzed:      analyzed,
		Failed:        failed,
		Duration:      duration.String(),
		EventTime:     report.FinishedAt,
	})

	log.FromContext(ctx, s.logger).Info("Cycle finished",
		"conversations", report.Conversations,
		"fetched", fetched,
		"analyzed", analyzed,
		"failed", failed,
		"clusters", len(report.Clusters),
		"cancelled", report.Cancelled,
		"duration", duration,
	)

	if !report.Cancelled {
		s.mu.Lock()
		s.lastReport = report
		s.mu.Unlock()
	}
	return report, err
}

// processConversation 在独立超时内处理单个会话，失败只影响该会话
func (s *Scheduler) processConversation(ctx context.Context, conv *domainMonitor.Conversation) (out *ConversationOutcome) {
	out = &ConversationOutcome{ConversationID: conv.ID, Name: conv.Name()}
	ctx = log.WithConversationID(ctx, conv.ID)

	cctx := ctx
	if s.convTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, s.convTimeout)
		defer cancel()
	}

	stage := StageFetch
	defer func() {
		if r := recover(); r != nil {
			err := domainMonitor.NewError(domainMonitor.KindPermanent, stage, conv.ID, fmt.Errorf("panic: %v", r))
			s.fail(ctx, cctx, out, stage, err)
		}
	}()

	fetched, err := s.fetcher.FetchNew(cctx, conv)
	if fetched != nil {
		out.Fetched = fetched.Fetched
		out.Inserted = fetched.Inserted
	}
	if err != nil {
		s.fail(ctx, cctx, out, stage, err)
		return out
	}

	stage = StageAnalyze
	analyzed, err := s.analyzer.AnalyzeConversation(cctx, conv)
	if analyzed != nil {
		out.Analyzed = analyzed.Analyzed
		out.Urgent = analyzed.Urgent
		out.FailedBatches = analyzed.FailedBatches
	}
	if err != nil {
		s.fail(ctx, cctx, out, stage, err)
		return out
	}
	if out.FailedBatches > 0 {
		// 批次失败已由分析引擎逐条记录
		out.Stage = stage
		out.Kind = domainMonitor.KindAnalysisFailure
		out.Error = fmt.Sprintf("%d of %d batches failed", analyzed.FailedBatches, analyzed.Batches)
	}

	if s.members != nil && s.members.Due(conv) {
		stage = StageMembers
		n, err := s.members.Sync(cctx, conv)
		if err != nil {
			s.fail(ctx, cctx, out, stage, err)
			return out
		}
		out.Members = n
	}
	return out
}

// fail 记录会话失败；会话超时视为 Transient，周期取消时不记录
func (s *Scheduler) fail(ctx, cctx context.Context, out *ConversationOutcome, stage string, err error) {
	if ctx.Err() != nil {
		out.Cancelled = true
		out.Error = err.Error()
		return
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) && !domainMonitor.IsKind(err, domainMonitor.KindTransient) {
		err = domainMonitor.NewError(domainMonitor.KindTransient, stage, out.ConversationID,
			fmt.Errorf("conversation timeout: %w", err))
	}
	out.Stage = stage
	out.Kind = domainMonitor.KindOf(err)
	out.Error = err.Error()
	s.rt.RecordFailure(ctx, stage, out.ConversationID, err)
}
