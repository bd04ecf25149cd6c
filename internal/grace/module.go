package grace

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/interactionlab/tandem/config"
)

var Module = fx.Module("grace",
	fx.Provide(
		func(logger *slog.Logger, cfg *config.Config) *Table {
			return NewTable(logger, cfg.Timeouts.LoadingTimeout())
		},
	),
)
