package infrastructure

import (
	"github.com/google/wire"

	"github.com/chatwatch/backend/internal/infrastructure/clock"
	"github.com/chatwatch/backend/internal/infrastructure/config"
	"github.com/chatwatch/backend/internal/infrastructure/discovery"
	"github.com/chatwatch/backend/internal/infrastructure/inference"
	"github.com/chatwatch/backend/internal/infrastructure/storage"
	"github.com/chatwatch/backend/internal/infrastructure/telegram"
	"github.com/chatwatch/backend/internal/infrastructure/vector"
	"github.com/chatwatch/backend/internal/infrastructure/watcher"
	"github.com/chatwatch/backend/internal/infrastructure/websocket"
)

// ProviderSet Infrastructure 层总 ProviderSet
var ProviderSet = wire.NewSet(
	config.ProviderSet,
	storage.ProviderSet,
	websocket.ProviderSet,
	watcher.ProviderSet,
	telegram.ProviderSet,
	clock.NewReal,
	inference.ProvideClient,
	vector.ProvideVectorIndex,
	discovery.NewAdvertiser,
)
