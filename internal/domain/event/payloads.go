package event

import (
	"encoding/json"

	"github.com/interactionlab/tandem/internal/domain/model"
	"github.com/interactionlab/tandem/internal/domain/state"
)

// Typed payloads for the server-to-client events that carry structure.
// Relay payloads stay json.RawMessage end to end; the coordinator never
// interprets them.

// RegisteredPayload acknowledges register and hands the client its token.
type RegisteredPayload struct {
	SubjectID model.SubjectID `json:"subject_id"`
	Recovered bool            `json:"recovered"`
}

// WaitroomJoinedPayload confirms waitroom entry.
type WaitroomJoinedPayload struct {
	SceneID  model.SceneID `json:"scene_id"`
	Position int           `json:"position"`
}

// WaitroomLeftPayload reports why the subject left the queue.
type WaitroomLeftPayload struct {
	SceneID model.SceneID `json:"scene_id"`
	Reason  string        `json:"reason"` // explicit | timeout | matched_elsewhere
}

// GameStartPayload is the session admission ticket. Participants is
// slot-ordered; Slot is the recipient's own index into it.
type GameStartPayload struct {
	SessionID    model.SessionID   `json:"session_id"`
	SceneID      model.SceneID     `json:"scene_id"`
	Participants []model.SubjectID `json:"participants"`
	Slot         int               `json:"slot"`
	Reunion      bool              `json:"reunion"`
}

// SessionEndedPayload carries the taxonomy reason plus the researcher
// authored message for that reason in the session's scene.
type SessionEndedPayload struct {
	SessionID model.SessionID         `json:"session_id"`
	Reason    state.TerminationReason `json:"reason"`
	Message   string                  `json:"message,omitempty"`
}

// ProbeStartPayload assigns the recipient its role in one probe pair.
type ProbeStartPayload struct {
	ProbeID model.ProbeID   `json:"probe_id"`
	Role    string          `json:"role"` // offerer | answerer
	Peer    model.SubjectID `json:"peer"`
}

// ProbeSignalPayload relays opaque SDP/ICE between a probe pair.
type ProbeSignalPayload struct {
	ProbeID model.ProbeID   `json:"probe_id"`
	From    model.SubjectID `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// ProbePingRequestPayload asks both peers to run RTT rounds and report.
type ProbePingRequestPayload struct {
	ProbeID model.ProbeID `json:"probe_id"`
	Rounds  int           `json:"rounds"`
}

// ProbeFailedPayload tells a candidate its proposed group did not pass.
type ProbeFailedPayload struct {
	ProbeID model.ProbeID `json:"probe_id,omitempty"`
	Reason  string        `json:"reason"`
}

// RelayPayload is the stamped envelope for relayed application messages.
// Body is verbatim from the sender; From is stamped by the server.
type RelayPayload struct {
	SessionID model.SessionID `json:"session_id"`
	From      model.SubjectID `json:"from"`
	Body      json.RawMessage `json:"payload"`
}

// PingPayload carries the server clock for the app-level RTT loop.
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload answers a client echo so the client can sample its own RTT.
type PongPayload struct {
	Timestamp       int64 `json:"timestamp"`
	ServerTimestamp int64 `json:"server_timestamp"`
}

// ErrorPayload is the tagged protocol failure surfaced to the caller.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
