package telegram

import (
	"github.com/google/wire"

	"github.com/chatwatch/backend/internal/domain/monitor"
)

// ProviderSet 协议客户端 ProviderSet
var ProviderSet = wire.NewSet(
	NewClient,
	wire.Bind(new(monitor.ProtocolClient), new(*Client)),
)
