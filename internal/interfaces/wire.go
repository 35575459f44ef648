package interfaces

import (
	"github.com/google/wire"

	"github.com/chatwatch/backend/internal/interfaces/http"
	"github.com/chatwatch/backend/internal/interfaces/mcp"
)

// ProviderSet Interfaces 层总 ProviderSet
var ProviderSet = wire.NewSet(
	http.ProviderSet,
	mcp.ProviderSet,
)
