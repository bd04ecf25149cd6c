package session

import (
	"context"

	"go.uber.org/fx"

	"github.com/interactionlab/tandem/internal/matchmaker"
	"github.com/interactionlab/tandem/internal/probe"
	"github.com/interactionlab/tandem/internal/transport"
)

var Module = fx.Module("session",
	fx.Provide(
		matchmaker.NewRooms,
		func(c *probe.Coordinator) Prober { return c },
		NewManager,
	),
	fx.Invoke(func(lc fx.Lifecycle, hub *transport.Hub, m *Manager) {
		// The handler must be in place before the first Accept.
		hub.SetDisconnectHandler(m.OnDisconnect)

		stop := make(chan struct{})
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go m.janitor(stop)
				return nil
			},
			OnStop: func(context.Context) error {
				close(stop)
				return nil
			},
		})
	}),
)
