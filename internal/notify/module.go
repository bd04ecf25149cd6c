package notify

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/interactionlab/tandem/config"
)

var Module = fx.Module("notify",
	fx.Provide(
		func(logger *slog.Logger, cfg *config.Config) *Webhook {
			return NewWebhook(logger, cfg.Webhook.URL, cfg.Webhook.Timeout())
		},
	),
)
