package review

import (
	"github.com/google/wire"

	appMonitor "github.com/chatwatch/backend/internal/application/monitor"
)

// ProviderSet 审阅报告 ProviderSet
var ProviderSet = wire.NewSet(ProvideService)

// ProvideService 基于运行时仓储提供审阅服务，重复话题来自检测器
func ProvideService(rt *appMonitor.Runtime, detector *appMonitor.Detector) *Service {
	return NewService(rt.Conversations, rt.Messages, rt.Members, rt.Events, detector, rt.Clock)
}
