package watcher

import (
	"github.com/google/wire"

	"github.com/chatwatch/backend/internal/domain/events"
)

// ProviderSet 事件总线 ProviderSet
var ProviderSet = wire.NewSet(ProvideEventBus)

// ProvideEventBus 提供事件总线实例
func ProvideEventBus() events.EventBus {
	return NewEventBus()
}
