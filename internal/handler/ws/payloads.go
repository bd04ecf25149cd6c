package ws

import (
	"encoding/json"

	"github.com/interactionlab/tandem/internal/domain/model"
)

// Inbound payload shapes, decoded at the dispatch boundary. Relay bodies
// are decoded only far enough to read the session id; the raw frame is
// what gets forwarded.

type registerPayload struct {
	Token            string                     `json:"token"`
	CustomAttributes map[string]json.RawMessage `json:"custom_attributes"`
	StagerState      json.RawMessage            `json:"stager_state"`
}

type joinGamePayload struct {
	SceneID model.SceneID `json:"scene_id"`
}

type leaveGamePayload struct {
	SessionID model.SessionID `json:"session_id"`
}

type advanceScenePayload struct {
	SceneID model.SceneID `json:"scene_id"`
}

type pingPayload struct {
	// Timestamp is the server clock echoed back from the last ping event.
	Timestamp int64 `json:"timestamp"`
}

type relayFrame struct {
	SessionID model.SessionID `json:"session_id"`
}

type probeSignalPayload struct {
	ProbeID model.ProbeID   `json:"probe_id"`
	Payload json.RawMessage `json:"payload"`
}

type probeConnectedPayload struct {
	ProbeID model.ProbeID `json:"probe_id"`
}

type probeRTTReportPayload struct {
	ProbeID model.ProbeID `json:"probe_id"`
	RTTMs   float64       `json:"rtt_ms"`
}

type probeFailedPayload struct {
	ProbeID model.ProbeID `json:"probe_id"`
	Reason  string        `json:"reason"`
}

type healthReportPayload struct {
	SessionID      model.SessionID `json:"session_id"`
	ConnectionType string          `json:"connection_type"`
	RTTMs          float64         `json:"rtt_ms"`
	Status         string          `json:"status"`
}

type exclusionPayload struct {
	SessionID   model.SessionID `json:"session_id"`
	Reason      string          `json:"reason"`
	FrameNumber int             `json:"frame_number"`
	Timestamp   int64           `json:"timestamp"`
}

type exportEnvelope struct {
	SessionID model.SessionID `json:"session_id"`
}

type consoleErrorPayload struct {
	SessionID model.SessionID `json:"session_id"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Timestamp int64           `json:"timestamp"`
}
