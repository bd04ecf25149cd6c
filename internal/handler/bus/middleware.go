package bus

import (
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
)

// LoggingMiddleware records per-message handling latency at debug level.
func LoggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			msgs, err := h(msg)
			logger.Debug("observer message handled",
				slog.String("msg_id", msg.UUID),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.Bool("success", err == nil))
			return msgs, err
		}
	}
}

// NewRetryMiddleware gives failing consumers a short backoff before the
// poison queue takes the message.
func NewRetryMiddleware() middleware.Retry {
	return middleware.Retry{
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
	}
}
