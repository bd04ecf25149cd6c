package transport

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/interactionlab/tandem/config"
)

var Module = fx.Module("transport",
	fx.Provide(
		func(logger *slog.Logger, cfg *config.Config) *Hub {
			return NewHub(logger,
				WithHeartbeat(cfg.Timeouts.PingInterval(), cfg.Timeouts.PingTimeout()),
				WithRTTInterval(cfg.Transport.RTTInterval()),
				WithQueueSize(cfg.Transport.QueueSize),
			)
		},
		fx.Annotate(
			func(h *Hub) Hubber { return h },
			fx.As(new(Hubber)),
		),
		NewRTTPinger,
	),
	fx.Invoke(func(lc fx.Lifecycle, h *Hub, pinger *RTTPinger) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				pinger.Start()
				return nil
			},
			OnStop: func(context.Context) error {
				pinger.Stop()
				h.Shutdown() // [GRACEFUL_SHUTDOWN] close every pump
				return nil
			},
		})
	}),
)
