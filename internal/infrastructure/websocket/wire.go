package websocket

import (
	"github.com/google/wire"

	"github.com/chatwatch/backend/internal/infrastructure/config"
)

// ProviderSet WebSocket ProviderSet
var ProviderSet = wire.NewSet(ProvideHub)

// ProvideHub 按配置的缓冲区大小创建 Hub
func ProvideHub(cfg *config.WebSocketConfig) *Hub {
	h := NewHub()
	if cfg.ReadBufferSize > 0 {
		h.upgrader.ReadBufferSize = cfg.ReadBufferSize
	}
	if cfg.WriteBufferSize > 0 {
		h.upgrader.WriteBufferSize = cfg.WriteBufferSize
	}
	return h
}
