package admin

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/interactionlab/tandem/config"
	"github.com/interactionlab/tandem/internal/transport"
)

var Module = fx.Module("admin",
	fx.Provide(
		func(logger *slog.Logger, cfg *config.Config, hub *transport.Hub) *Aggregator {
			return New(logger, cfg, hub, hub.Stats)
		},
	),
)
