package audit

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/interactionlab/tandem/config"
	"github.com/interactionlab/tandem/internal/adapter/pubsub"
)

var Module = fx.Module("audit",
	fx.Provide(
		func(cfg *config.Config) *Writer {
			return NewWriter(cfg.Data.Dir, cfg.Data.ExperimentID)
		},
		func(logger *slog.Logger, cfg *config.Config, writer *Writer, dispatcher pubsub.EventDispatcher) (*Sink, error) {
			return NewSink(logger, writer, dispatcher, cfg.Timeouts.AuditRetention())
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, sink *Sink) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				sink.Close() // [GRACEFUL_SHUTDOWN] flush open windows
				return nil
			},
		})
	}),
)
