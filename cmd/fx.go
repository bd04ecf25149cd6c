package cmd

import (
	"go.uber.org/fx"

	"github.com/interactionlab/tandem/config"
	"github.com/interactionlab/tandem/infra/otel"
	infrapubsub "github.com/interactionlab/tandem/infra/pubsub"
	httpsrv "github.com/interactionlab/tandem/infra/server/http"
	adapterpubsub "github.com/interactionlab/tandem/internal/adapter/pubsub"
	"github.com/interactionlab/tandem/internal/admin"
	"github.com/interactionlab/tandem/internal/audit"
	"github.com/interactionlab/tandem/internal/grace"
	"github.com/interactionlab/tandem/internal/handler/bus"
	"github.com/interactionlab/tandem/internal/handler/httpapi"
	wshandler "github.com/interactionlab/tandem/internal/handler/ws"
	"github.com/interactionlab/tandem/internal/notify"
	"github.com/interactionlab/tandem/internal/probe"
	"github.com/interactionlab/tandem/internal/registry"
	"github.com/interactionlab/tandem/internal/relay"
	"github.com/interactionlab/tandem/internal/scene"
	"github.com/interactionlab/tandem/internal/session"
	"github.com/interactionlab/tandem/internal/transport"
)

// NewApp assembles the coordinator process from its fx modules.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(func() *config.Config { return cfg }),
		otel.Module,
		infrapubsub.Module,
		adapterpubsub.Module,
		transport.Module,
		registry.Module,
		scene.Module,
		grace.Module,
		probe.Module,
		session.Module,
		relay.Module,
		admin.Module,
		audit.Module,
		notify.Module,
		bus.Module,
		wshandler.Module,
		httpapi.Module,
		httpsrv.Module,
	)
}
