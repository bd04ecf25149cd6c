package scene

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/interactionlab/tandem/config"
)

var Module = fx.Module("scene",
	fx.Provide(NewStore),
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, store *Store, logger *slog.Logger) {
		if cfg.Scenes.Path == "" {
			logger.Info("no scenes file configured, running with built-in defaults")
			return
		}

		var watcher *Watcher
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				if err := store.Load(cfg.Scenes.Path); err != nil {
					return err
				}
				if !cfg.Scenes.Watch {
					return nil
				}
				w, err := NewWatcher(logger, store, cfg.Scenes.Path)
				if err != nil {
					return err
				}
				watcher = w
				return nil
			},
			OnStop: func(context.Context) error {
				if watcher == nil {
					return nil
				}
				return watcher.Close()
			},
		})
	}),
)
