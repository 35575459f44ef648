package handler

import (
	"github.com/google/wire"

	appMonitor "github.com/chatwatch/backend/internal/application/monitor"
	"github.com/chatwatch/backend/internal/application/review"
)

// ProviderSet Handler ProviderSet
var ProviderSet = wire.NewSet(
	ProvideMonitorHandler,
	NewEventsHandler,
)

// ProvideMonitorHandler 用应用层服务组装监控处理器
func ProvideMonitorHandler(
	scheduler *appMonitor.Scheduler,
	registry *appMonitor.Registry,
	similarity *appMonitor.SimilarityService,
	reviewService *review.Service,
	rt *appMonitor.Runtime,
) *MonitorHandler {
	return NewMonitorHandler(scheduler, registry, similarity, reviewService, rt.Conversations, rt.Messages)
}
