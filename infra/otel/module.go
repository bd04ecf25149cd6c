package otel

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
)

var Module = fx.Module("otel",
	fx.Provide(
		New,
		func(l *Logging) *slog.Logger { return l.Logger },
		NewWatermillLogger,
	),
	fx.Invoke(func(lc fx.Lifecycle, l *Logging) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return l.Shutdown(ctx)
			},
		})
	}),
)
