package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"

	"github.com/interactionlab/tandem/config"
	"github.com/interactionlab/tandem/internal/handler/httpapi"
	"github.com/interactionlab/tandem/internal/handler/ws"
)

// NewRouter assembles the single HTTP surface: the websocket endpoint for
// participants plus the admin read API.
func NewRouter(wsHandler *ws.Handler, api *httpapi.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/ws", wsHandler)
	api.Routes(r)
	return r
}

var Module = fx.Module("http-server",
	fx.Provide(NewRouter),
	fx.Invoke(func(lc fx.Lifecycle, logger *slog.Logger, cfg *config.Config, router chi.Router) {
		srv := &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				ln, err := net.Listen("tcp", cfg.Addr())
				if err != nil {
					return err
				}
				logger.Info("http server listening", slog.String("addr", cfg.Addr()))
				go func() {
					if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("http server stopped", slog.Any("err", err))
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}),
)
