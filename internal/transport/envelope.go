package transport

import (
	"encoding/json"
	"fmt"

	"github.com/interactionlab/tandem/internal/domain/event"
)

// Envelope is the wire frame for both directions: a typed event name plus
// an opaque payload. Binary relay content rides inside Payload as base64
// strings and is never touched by the coordinator.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeFrame serializes an outbound event to its wire frame. The frame is
// memoized on the event so a room fan-out marshals once per event, not per
// recipient, even with every recipient's write loop calling concurrently.
func EncodeFrame(ev event.Eventer) ([]byte, error) {
	return ev.Frame(func() ([]byte, error) { return marshalEnvelope(ev) })
}

func marshalEnvelope(ev event.Eventer) ([]byte, error) {
	var payload json.RawMessage
	if p := ev.GetPayload(); p != nil {
		body, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", ev.GetKind(), err)
		}
		payload = body
	}

	frame, err := json.Marshal(Envelope{
		Event:   ev.GetKind().String(),
		Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", ev.GetKind(), err)
	}
	return frame, nil
}

// DecodeFrame parses an inbound wire frame. The payload stays raw; typed
// decoding happens at the handler that owns the event.
func DecodeFrame(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("frame missing event name")
	}
	return env, nil
}
