package model

import (
	"encoding/json"
	"time"

	"github.com/interactionlab/tandem/internal/domain/state"
)

// Participant is the registry-owned record for one human subject.
//
// [OWNERSHIP] The registry holds the only mutable reference; every other
// component works on copy-outs (View) or on the SubjectID alone.
type Participant struct {
	SubjectID         SubjectID
	CurrentConnection ConnectionID // empty while offline
	IsConnected       bool
	State             state.ParticipantState
	SceneID           SceneID
	GroupID           SessionID // most recent pairing, empty before first match

	// RTTMs is the EWMA of transport round trips; valid only when RTTKnown.
	// Absence of data must never block matching, so the zero value stays
	// distinguishable from a measured zero.
	RTTMs    float64
	RTTKnown bool

	// CustomAttributes are opaque to the core; researcher matchmakers parse
	// them defensively.
	CustomAttributes map[string]json.RawMessage

	// StagerState is the scene sequencer's blob, preserved verbatim across
	// reconnects.
	StagerState json.RawMessage

	CreatedAt     time.Time
	LastUpdatedAt time.Time
}

// RTT returns the smoothed server round trip, if one has been measured.
func (p *Participant) RTT() (float64, bool) {
	return p.RTTMs, p.RTTKnown
}

// View is the copy-out used by admin surfaces and tests. It carries no
// references into registry-owned state.
func (p *Participant) View() ParticipantView {
	v := ParticipantView{
		SubjectID:   p.SubjectID,
		IsConnected: p.IsConnected,
		State:       p.State,
		SceneID:     p.SceneID,
		GroupID:     p.GroupID,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.LastUpdatedAt,
	}
	if p.RTTKnown {
		rtt := p.RTTMs
		v.RTTMs = &rtt
	}
	return v
}

// ParticipantView is the JSON shape exposed on read surfaces.
type ParticipantView struct {
	SubjectID   SubjectID              `json:"subject_id"`
	IsConnected bool                   `json:"is_connected"`
	State       state.ParticipantState `json:"state"`
	SceneID     SceneID                `json:"scene_id,omitempty"`
	GroupID     SessionID              `json:"group_id,omitempty"`
	RTTMs       *float64               `json:"rtt_ms,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// GroupHistory is the most-recent-pairing record kept per subject. It is
// replaced wholesale on every record_group; only hard eviction removes it.
type GroupHistory struct {
	PreviousPartners map[SubjectID]struct{}
	SourceSceneID    SceneID
	GroupID          SessionID
	RecordedAt       time.Time
}

// WasPartneredWith reports whether other is in the most recent group.
func (h *GroupHistory) WasPartneredWith(other SubjectID) bool {
	if h == nil {
		return false
	}
	_, ok := h.PreviousPartners[other]
	return ok
}

// MatchCandidate is the matchmaker's immutable view of one participant,
// constructed per match attempt.
type MatchCandidate struct {
	SubjectID        SubjectID
	RTTMs            float64
	RTTKnown         bool
	History          *GroupHistory
	CustomAttributes map[string]json.RawMessage
}
