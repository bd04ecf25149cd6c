package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/interactionlab/tandem/internal/domain/event"
)

// Webhook POSTs a JSON record per ended session to the configured URL,
// typically a completion-redemption endpoint on the recruitment platform.
// Delivery is fire-and-forget: a lost notification never blocks or fails
// the session teardown, and there are no retries. The circuit breaker
// stops hammering a dead endpoint during an experiment run.
type Webhook struct {
	logger  *slog.Logger
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewWebhook(logger *slog.Logger, url string, timeout time.Duration) *Webhook {
	return &Webhook{
		logger: logger.With(slog.String("component", "webhook")),
		url:    url,
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "session-webhook",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			Timeout: 30 * time.Second,
		}),
	}
}

// Enabled reports whether a target URL is configured.
func (w *Webhook) Enabled() bool { return w.url != "" }

// NotifySessionEnded delivers one termination record. Errors are logged,
// never returned to the lifecycle path.
func (w *Webhook) NotifySessionEnded(ctx context.Context, ev event.SessionEndedEvent) {
	if !w.Enabled() {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		w.logger.Error("webhook payload marshal failed", slog.Any("err", err))
		return
	}

	_, err = w.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("webhook returned %s", resp.Status)
		}
		return nil, nil
	})
	if err != nil {
		w.logger.Warn("webhook delivery failed",
			slog.String("session_id", string(ev.SessionID)),
			slog.Any("err", err))
		return
	}
	w.logger.Debug("webhook delivered", slog.String("session_id", string(ev.SessionID)))
}
