package grace

import (
	"log/slog"
	"sync"
	"time"

	"github.com/interactionlab/tandem/internal/domain/model"
)

// Table tracks participants blocked on heavy client initialization (the
// WASM compile). While a subject is in its grace window a disconnect must
// not run destructive cleanup: the client will miss heartbeats, drop, and
// reconnect with its session intact.
//
// The window is bounded: entries older than the timeout stop granting
// grace even before the sweep removes them, so a client that never
// finishes loading cannot shield a dead session forever.
type Table struct {
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	loading map[model.SubjectID]time.Time
}

func NewTable(logger *slog.Logger, timeout time.Duration) *Table {
	return &Table{
		logger:  logger.With(slog.String("component", "loading_grace")),
		timeout: timeout,
		loading: make(map[model.SubjectID]time.Time),
	}
}

// Start opens the grace window. The client emits this before blocking.
func (t *Table) Start(subject model.SubjectID) {
	t.mu.Lock()
	t.loading[subject] = time.Now()
	t.mu.Unlock()
	t.logger.Debug("loading started", slog.String("subject_id", string(subject)))
}

// Complete closes the window and returns how long the load took.
func (t *Table) Complete(subject model.SubjectID) (time.Duration, bool) {
	t.mu.Lock()
	started, ok := t.loading[subject]
	delete(t.loading, subject)
	t.mu.Unlock()
	if !ok {
		return 0, false
	}
	d := time.Since(started)
	t.logger.Info("loading completed",
		slog.String("subject_id", string(subject)),
		slog.Int64("duration_ms", d.Milliseconds()))
	return d, true
}

// InGrace reports whether a disconnect for the subject should be treated
// as transient. Expired entries do not grant grace.
func (t *Table) InGrace(subject model.SubjectID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	started, ok := t.loading[subject]
	if !ok {
		return false
	}
	return time.Since(started) < t.timeout
}

// Sweep drops entries past the safety timeout and returns how many.
func (t *Table) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	swept := 0
	for subject, started := range t.loading {
		if time.Since(started) >= t.timeout {
			delete(t.loading, subject)
			swept++
			t.logger.Warn("loading grace expired",
				slog.String("subject_id", string(subject)))
		}
	}
	return swept
}

// Drop removes the subject's entry without logging, for hard eviction.
func (t *Table) Drop(subject model.SubjectID) {
	t.mu.Lock()
	delete(t.loading, subject)
	t.mu.Unlock()
}

// Len reports how many subjects are currently loading.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.loading)
}
