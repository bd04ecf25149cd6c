package bus

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"
)

var Module = fx.Module("bus-handler",
	fx.Provide(
		NewObserver,
		NewRouter,
	),
	fx.Invoke(func(lc fx.Lifecycle, logger *slog.Logger, router *message.Router, o *Observer, sub message.Subscriber) error {
		if err := o.RegisterHandlers(router, sub); err != nil {
			return err
		}
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := router.Run(context.Background()); err != nil {
						logger.Error("observer router stopped", slog.Any("err", err))
					}
				}()
				<-router.Running()
				return nil
			},
			OnStop: func(context.Context) error {
				return router.Close()
			},
		})
		return nil
	}),
)
