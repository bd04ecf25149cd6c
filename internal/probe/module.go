package probe

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/interactionlab/tandem/config"
	"github.com/interactionlab/tandem/internal/transport"
)

var Module = fx.Module("probe",
	fx.Provide(
		func(logger *slog.Logger, hub transport.Hubber, cfg *config.Config) *Coordinator {
			return NewCoordinator(logger, hub, cfg.Timeouts.ProbeTimeout())
		},
	),
)
