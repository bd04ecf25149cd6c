package event

import (
	"time"

	"github.com/interactionlab/tandem/internal/domain/model"
	"github.com/interactionlab/tandem/internal/domain/state"
)

// Bus topics for the in-process observer pipeline. Everything on the bus is
// strictly observational: lifecycle mutations are synchronous direct calls,
// and no consumer feeds back into the critical path.
const (
	TopicSessionMatched          = "session.matched.v1"
	TopicSessionStarted          = "session.started.v1"
	TopicSessionEnded            = "session.ended.v1"
	TopicParticipantRegistered   = "participant.registered.v1"
	TopicParticipantDisconnected = "participant.disconnected.v1"
	TopicParticipantState        = "participant.state.v1"
	TopicWaitroomChanged         = "waitroom.changed.v1"
	TopicProbeFinished           = "probe.finished.v1"
	TopicExclusionRecorded       = "session.exclusion.v1"
	TopicHealthReported          = "session.health.v1"
	TopicConsoleError            = "participant.console.v1"
	TopicExportReceived          = "audit.export.v1"
)

// SessionMatchedEvent fires when a proposed group gets its session record.
type SessionMatchedEvent struct {
	SessionID    model.SessionID   `json:"session_id"`
	SceneID      model.SceneID     `json:"scene_id"`
	Participants []model.SubjectID `json:"participants"`
	Matchmaker   string            `json:"matchmaker"`
	Reunion      bool              `json:"reunion"`
	MatchedAt    time.Time         `json:"matched_at"`
}

// SessionStartedEvent fires on the MATCHED/VALIDATING to PLAYING edge.
type SessionStartedEvent struct {
	SessionID    model.SessionID    `json:"session_id"`
	SceneID      model.SceneID      `json:"scene_id"`
	Participants []model.SubjectID  `json:"participants"`
	Matchmaker   string             `json:"matchmaker"`
	Reunion      bool               `json:"reunion"`
	ProbeRTTs    map[string]float64 `json:"probe_rtts,omitempty"`
	PlayingAt    time.Time          `json:"playing_at"`
}

// SessionEndedEvent fires exactly once per session, from the teardown
// winner. ExpectedExports arms the audit collection window.
type SessionEndedEvent struct {
	SessionID       model.SessionID         `json:"session_id"`
	SceneID         model.SceneID           `json:"scene_id"`
	Participants    []model.SubjectID       `json:"participants"`
	Reason          state.TerminationReason `json:"reason"`
	RawReason       string                  `json:"raw_reason,omitempty"`
	DurationMs      int64                   `json:"duration_ms"`
	EndedAt         time.Time               `json:"ended_at"`
	ExpectedExports []model.SubjectID       `json:"expected_exports"`
}

// ParticipantRegisteredEvent fires on first contact and on recovery.
type ParticipantRegisteredEvent struct {
	SubjectID model.SubjectID `json:"subject_id"`
	Recovered bool            `json:"recovered"`
}

// ParticipantDisconnectedEvent fires when a connection drops. Grace marks
// drops swallowed by the loading protocol.
type ParticipantDisconnectedEvent struct {
	SubjectID model.SubjectID `json:"subject_id"`
	Grace     bool            `json:"grace"`
}

// ParticipantStateEvent mirrors every accepted lifecycle transition.
type ParticipantStateEvent struct {
	SubjectID model.SubjectID        `json:"subject_id"`
	From      state.ParticipantState `json:"from"`
	To        state.ParticipantState `json:"to"`
}

// WaitroomChangedEvent tracks queue membership for the admin surface.
type WaitroomChangedEvent struct {
	SceneID   model.SceneID   `json:"scene_id"`
	SubjectID model.SubjectID `json:"subject_id"`
	Change    string          `json:"change"` // joined | left | timeout | matched
	Size      int             `json:"size"`
}

// ProbeFinishedEvent reports one whole-group probe outcome.
type ProbeFinishedEvent struct {
	ProbeID   model.ProbeID      `json:"probe_id"`
	SessionID model.SessionID    `json:"session_id"`
	Outcome   string             `json:"outcome"` // ok | timeout | failed | rejected
	RTTs      map[string]float64 `json:"rtts,omitempty"`
	Reason    string             `json:"reason,omitempty"`
}

// ExclusionRecordedEvent mirrors a persisted mid-session exclusion.
type ExclusionRecordedEvent struct {
	SessionID   model.SessionID         `json:"session_id"`
	SubjectID   model.SubjectID         `json:"subject_id"`
	Reason      state.TerminationReason `json:"reason"`
	RawReason   string                  `json:"raw_reason,omitempty"`
	FrameNumber int                     `json:"frame_number"`
	Timestamp   int64                   `json:"timestamp"`
}

// HealthReportedEvent carries one client p2p_health_report to the admin
// aggregator.
type HealthReportedEvent struct {
	SessionID      model.SessionID `json:"session_id"`
	SubjectID      model.SubjectID `json:"subject_id"`
	ConnectionType string          `json:"connection_type"`
	RTTMs          float64         `json:"rtt_ms"`
	Status         string          `json:"status"`
}

// ConsoleErrorEvent captures one client console error for the admin rings.
type ConsoleErrorEvent struct {
	SubjectID model.SubjectID `json:"subject_id"`
	SessionID model.SessionID `json:"session_id,omitempty"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Timestamp int64           `json:"timestamp"`
}

// ExportReceivedEvent notes an accepted validation export, for display.
type ExportReceivedEvent struct {
	SessionID model.SessionID `json:"session_id"`
	SubjectID model.SubjectID `json:"subject_id"`
}
