package model

import (
	"sync"
	"time"

	"github.com/interactionlab/tandem/internal/domain/state"
)

// Session is one matched group's playthrough of one scene.
//
// [LOCKING] Every state mutation happens under mu, held by the lifecycle
// manager for the duration of the mutating step. end_session is idempotent:
// late callers observe ENDED and return without side effects.
type Session struct {
	mu sync.Mutex

	ID    SessionID
	State state.SessionState

	// Participants is slot-ordered: index 0 is player 0. Fixed at MATCHED.
	Participants []SubjectID
	SceneID      SceneID

	CreatedAt time.Time
	MatchedAt time.Time
	PlayingAt time.Time
	EndedAt   time.Time

	TerminationReason state.TerminationReason
	// LateReasons records reasons from end callers that lost the race; the
	// winner's reason is the authoritative one.
	LateReasons []state.TerminationReason
	// RawExclusionReason keeps the unmapped client string when an exclusion
	// folded into custom_exclusion.
	RawExclusionReason string

	// P2PHealth is the last report per participant, for the aggregator.
	P2PHealth map[SubjectID]P2PHealth

	// ProbeRTTs carries the pre-session measurements, keyed "i-j" by slot,
	// for the match log.
	ProbeRTTs map[string]float64

	// CurrentEpisode is bumped by relayed episode_end messages.
	CurrentEpisode int
}

// NewSession builds a WAITING session for the proposed group. The slot
// order of subjects is preserved for the session's whole life.
func NewSession(sceneID SceneID, subjects []SubjectID) *Session {
	now := time.Now()
	return &Session{
		ID:           NewSessionID(),
		State:        state.SessionWaiting,
		Participants: append([]SubjectID(nil), subjects...),
		SceneID:      sceneID,
		CreatedAt:    now,
		P2PHealth:    make(map[SubjectID]P2PHealth),
		ProbeRTTs:    make(map[string]float64),
	}
}

// Lock serializes state-mutating steps; see the lifecycle manager.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Has reports whether the subject belongs to this session's group.
func (s *Session) Has(subject SubjectID) bool {
	for _, p := range s.Participants {
		if p == subject {
			return true
		}
	}
	return false
}

// Slot returns the player index of subject, or -1.
func (s *Session) Slot(subject SubjectID) int {
	for i, p := range s.Participants {
		if p == subject {
			return i
		}
	}
	return -1
}

// View builds the copy-out used by admin surfaces. Caller must hold the
// session lock or otherwise own the session exclusively.
func (s *Session) View() SessionView {
	v := SessionView{
		SessionID:      s.ID,
		State:          s.State,
		SceneID:        s.SceneID,
		Participants:   append([]SubjectID(nil), s.Participants...),
		CurrentEpisode: s.CurrentEpisode,
		CreatedAt:      s.CreatedAt,
		Reason:         s.TerminationReason,
	}
	if !s.EndedAt.IsZero() {
		v.EndedAt = &s.EndedAt
	}
	if len(s.P2PHealth) > 0 {
		v.Health = make(map[SubjectID]P2PHealth, len(s.P2PHealth))
		for k, h := range s.P2PHealth {
			v.Health[k] = h
		}
	}
	return v
}

// Duration is wall time from match to end; zero until both stamps exist.
func (s *Session) Duration() time.Duration {
	if s.MatchedAt.IsZero() || s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.MatchedAt)
}

// SessionView is the JSON shape exposed on read surfaces.
type SessionView struct {
	SessionID      SessionID               `json:"session_id"`
	State          state.SessionState      `json:"state"`
	SceneID        SceneID                 `json:"scene_id"`
	Participants   []SubjectID             `json:"participants"`
	CurrentEpisode int                     `json:"current_episode"`
	Health         map[SubjectID]P2PHealth `json:"p2p_health,omitempty"`
	Reason         state.TerminationReason `json:"termination_reason,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
	EndedAt        *time.Time              `json:"ended_at,omitempty"`
}

// P2PHealth is the last client-reported peer-link snapshot.
type P2PHealth struct {
	ConnectionType string    `json:"connection_type"` // direct | relay | socketio_fallback
	RTTMs          float64   `json:"rtt_ms"`
	Status         string    `json:"status"`
	ReportedAt     time.Time `json:"reported_at"`
}
