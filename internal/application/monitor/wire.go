package monitor

import (
	"github.com/google/wire"

	domainMonitor "github.com/chatwatch/backend/internal/domain/monitor"
	"github.com/chatwatch/backend/internal/infrastructure/config"
)

// ProviderSet 监控流水线 ProviderSet
var ProviderSet = wire.NewSet(
	NewRuntime,
	ProvideRegistry,
	ProvideQuietPeriod,
	ProvideFetcher,
	ProvideAnalyzer,
	ProvideDetector,
	ProvideMemberSync,
	ProvideScheduler,
	NewSimilarityService,
)

// ProvideRegistry 提供句柄注册表
func ProvideRegistry(rt *Runtime) (*Registry, error) {
	return NewRegistry(rt, DefaultHandleCacheSize)
}

// ProvideQuietPeriod 提供成员请求的静默间隔
func ProvideQuietPeriod(cfg *config.Config, rt *Runtime) *QuietPeriod {
	return NewQuietPeriod(cfg.Fetch.QuietPeriod, rt.Clock)
}

// ProvideFetcher 提供拉取客户端
func ProvideFetcher(cfg *config.Config, rt *Runtime, registry *Registry) *Fetcher {
	return NewFetcher(rt, registry, FetcherConfig{
		PageSize:           domainMonitor.HistoryPageSize,
		RequestTimeout:     cfg.Fetch.RequestTimeout,
		BackoffBase:        cfg.Fetch.BackoffBase,
		BackoffCap:         cfg.Fetch.BackoffCap,
		BackoffMaxAttempts: cfg.Fetch.BackoffMaxAttempts,
	})
}

// ProvideAnalyzer 提供分析引擎
func ProvideAnalyzer(cfg *config.Config, rt *Runtime) *Analyzer {
	return NewAnalyzer(rt, AnalyzerConfig{
		BatchSize:   domainMonitor.MaxBatchSize,
		Concurrency: cfg.Inference.Concurrency,
	})
}

// ProvideDetector 提供重复话题检测器
func ProvideDetector(cfg *config.Config, rt *Runtime) *Detector {
	return NewDetector(rt, cfg.Detector.Threshold)
}

// ProvideMemberSync 提供成员同步
func ProvideMemberSync(cfg *config.Config, rt *Runtime, registry *Registry, quiet *QuietPeriod) *MemberSync {
	return NewMemberSync(rt, registry, quiet, MemberSyncConfig{
		Enabled:         cfg.Members.Enabled,
		RefreshInterval: cfg.Members.RefreshInterval,
		PageSize:        cfg.Members.PageSize,
		Profiles:        cfg.Members.Profiles,
	})
}

// ProvideScheduler 提供调度器
func ProvideScheduler(cfg *config.Config, rt *Runtime, registry *Registry, fetcher *Fetcher, analyzer *Analyzer, detector *Detector, members *MemberSync) *Scheduler {
	return NewScheduler(rt, registry, fetcher, analyzer, detector, members, SchedulerConfig{
		Interval:            cfg.Scheduler.Interval,
		Workers:             cfg.Scheduler.Workers,
		ConversationTimeout: cfg.EffectiveConversationTimeout(domainMonitor.HistoryPageSize),
	})
}
