package relay

import (
	"go.uber.org/fx"

	"github.com/interactionlab/tandem/internal/session"
)

var Module = fx.Module("relay",
	fx.Provide(
		func(m *session.Manager) Sessions { return m },
		New,
	),
)
