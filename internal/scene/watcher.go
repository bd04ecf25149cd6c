package scene

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads the scenes file so researchers can adjust thresholds
// and messages without restarting live sessions.
//
// The parent directory is watched rather than the file itself: editors save
// atomically via rename, which would otherwise drop the watch.
type Watcher struct {
	logger  *slog.Logger
	store   *Store
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher starts watching path for the given store.
func NewWatcher(logger *slog.Logger, store *Store, path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %q: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		logger:  logger.With(slog.String("component", "scene_watcher")),
		store:   store,
		path:    path,
		watcher: fsw,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			if err := w.store.Load(w.path); err != nil {
				// Keep serving the previous table; a broken edit must not
				// take down live matching.
				w.logger.Error("scene reload failed, keeping previous table",
					slog.Any("err", err))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("scene watcher error", slog.Any("err", err))
		}
	}
}

// Close stops the watcher and waits for the loop to drain.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
