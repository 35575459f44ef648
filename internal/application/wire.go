package application

import (
	"github.com/google/wire"

	"github.com/chatwatch/backend/internal/application/monitor"
	"github.com/chatwatch/backend/internal/application/review"
)

// ProviderSet Application 层总 ProviderSet
var ProviderSet = wire.NewSet(
	monitor.ProviderSet,
	review.ProviderSet,
)
