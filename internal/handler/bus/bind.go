package bus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Consumer is the typed signature observer listeners implement.
type Consumer[T any] func(ctx context.Context, ev *T) error

// Bind adapts a typed consumer to a watermill handler. Undecodable
// payloads are acked and dropped: the bus is observational, so a poison
// payload must never wedge the pipeline.
func Bind[T any](logger *slog.Logger, fn Consumer[T]) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		ev := new(T)
		if err := json.Unmarshal(msg.Payload, ev); err != nil {
			logger.Error("observer decode failed",
				slog.String("msg_id", msg.UUID),
				slog.Any("err", err))
			return nil
		}
		return fn(msg.Context(), ev)
	}
}
