package registry

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/interactionlab/tandem/internal/domain/model"
	"github.com/interactionlab/tandem/internal/domain/state"
)

// rttAlpha is the EWMA smoothing factor for server round-trip samples.
const rttAlpha = 0.2

var (
	// ErrUnknownSubject means the subject id has no registry record.
	ErrUnknownSubject = errors.New("unknown subject")
)

// Registry is the canonical participant store. It owns the only mutable
// Participant records; every caller works with value copies.
//
// [LOCKING] participants and history are separate tables with separate
// locks. A caller that needs both acquires participants first, matching
// the global table order.
type Registry struct {
	logger *slog.Logger

	mu           sync.RWMutex
	participants map[model.SubjectID]*model.Participant

	histMu  sync.RWMutex
	history map[model.SubjectID]*model.GroupHistory
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger:       logger.With(slog.String("component", "registry")),
		participants: make(map[model.SubjectID]*model.Participant),
		history:      make(map[model.SubjectID]*model.GroupHistory),
	}
}

// RegisterOrRecover resolves a connection to a subject identity. A token
// naming a known participant re-binds that record; anything else mints a
// fresh subject. Recovery is allowed even when the old connection still
// looks live: the transport swap discipline suppresses the stale side.
func (r *Registry) RegisterOrRecover(connID model.ConnectionID, token string) (model.SubjectID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if token != "" {
		if p, ok := r.participants[model.SubjectID(token)]; ok {
			p.CurrentConnection = connID
			p.IsConnected = true
			p.LastUpdatedAt = time.Now()
			r.logger.Info("participant recovered",
				slog.String("subject_id", string(p.SubjectID)),
				slog.String("state", p.State.String()))
			return p.SubjectID, true
		}
	}

	now := time.Now()
	p := &model.Participant{
		SubjectID:         model.NewSubjectID(),
		CurrentConnection: connID,
		IsConnected:       true,
		State:             state.ParticipantIdle,
		CreatedAt:         now,
		LastUpdatedAt:     now,
	}
	r.participants[p.SubjectID] = p
	r.logger.Info("participant registered",
		slog.String("subject_id", string(p.SubjectID)))
	return p.SubjectID, false
}

// BindConnection points the subject at a new physical connection.
func (r *Registry) BindConnection(subject model.SubjectID, connID model.ConnectionID) error {
	return r.mutate(subject, func(p *model.Participant) {
		p.CurrentConnection = connID
		p.IsConnected = true
	})
}

// MarkDisconnected clears the connection but preserves state, scene and
// stager so a reconnect resumes where the participant left off.
func (r *Registry) MarkDisconnected(subject model.SubjectID) error {
	return r.mutate(subject, func(p *model.Participant) {
		p.CurrentConnection = ""
		p.IsConnected = false
	})
}

// Get returns a value copy of the participant record.
func (r *Registry) Get(subject model.SubjectID) (model.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[subject]
	if !ok {
		return model.Participant{}, false
	}
	return *p, true
}

// Transition applies one lifecycle edge, rejecting anything not in the
// graph. The rejection is an error value, never a panic.
func (r *Registry) Transition(subject model.SubjectID, to state.ParticipantState) (state.ParticipantState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[subject]
	if !ok {
		return "", ErrUnknownSubject
	}
	from := p.State
	if !from.CanTransitionTo(to) {
		r.logger.Warn("rejected state transition",
			slog.String("subject_id", string(subject)),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
		return from, state.ErrInvalidTransition
	}
	p.State = to
	p.LastUpdatedAt = time.Now()
	return from, nil
}

// Reset forces the subject back to IDLE. This is the retention-expiry
// edge, exempt from the strict graph on purpose.
func (r *Registry) Reset(subject model.SubjectID) error {
	return r.mutate(subject, func(p *model.Participant) {
		p.State = state.ParticipantIdle
		p.GroupID = ""
	})
}

// SetScene moves the participant onto an experiment content unit.
func (r *Registry) SetScene(subject model.SubjectID, scene model.SceneID) error {
	return r.mutate(subject, func(p *model.Participant) {
		p.SceneID = scene
	})
}

// SetGroup stamps the session the participant currently belongs to.
func (r *Registry) SetGroup(subject model.SubjectID, group model.SessionID) error {
	return r.mutate(subject, func(p *model.Participant) {
		p.GroupID = group
	})
}

// SetStagerState preserves the scene sequencer blob verbatim.
func (r *Registry) SetStagerState(subject model.SubjectID, blob json.RawMessage) error {
	return r.mutate(subject, func(p *model.Participant) {
		p.StagerState = append(json.RawMessage(nil), blob...)
	})
}

// MergeAttributes folds client-supplied custom attributes into the record.
// The core never interprets them; custom matchmakers do.
func (r *Registry) MergeAttributes(subject model.SubjectID, attrs map[string]json.RawMessage) error {
	return r.mutate(subject, func(p *model.Participant) {
		if p.CustomAttributes == nil {
			p.CustomAttributes = make(map[string]json.RawMessage, len(attrs))
		}
		for k, v := range attrs {
			p.CustomAttributes[k] = v
		}
	})
}

// RecordRTT folds one round-trip sample into the EWMA.
func (r *Registry) RecordRTT(subject model.SubjectID, sampleMs float64) error {
	if sampleMs < 0 {
		return nil
	}
	return r.mutate(subject, func(p *model.Participant) {
		if !p.RTTKnown {
			p.RTTMs = sampleMs
			p.RTTKnown = true
			return
		}
		p.RTTMs = rttAlpha*sampleMs + (1-rttAlpha)*p.RTTMs
	})
}

// IterByScene snapshots every participant currently on the scene.
func (r *Registry) IterByScene(scene model.SceneID) []model.Participant {
	return r.filter(func(p *model.Participant) bool { return p.SceneID == scene })
}

// IterByState snapshots every participant in the given lifecycle state.
func (r *Registry) IterByState(s state.ParticipantState) []model.Participant {
	return r.filter(func(p *model.Participant) bool { return p.State == s })
}

// Snapshot copies out the whole table for sweeps and the admin surface.
func (r *Registry) Snapshot() []model.Participant {
	return r.filter(func(*model.Participant) bool { return true })
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// RecordGroup writes group history for every listed subject, replacing any
// earlier record. Called when a session with real humans reaches ENDED.
func (r *Registry) RecordGroup(subjects []model.SubjectID, scene model.SceneID, session model.SessionID) {
	now := time.Now()

	r.histMu.Lock()
	defer r.histMu.Unlock()
	for _, s := range subjects {
		partners := make(map[model.SubjectID]struct{}, len(subjects)-1)
		for _, other := range subjects {
			if other != s {
				partners[other] = struct{}{}
			}
		}
		r.history[s] = &model.GroupHistory{
			PreviousPartners: partners,
			SourceSceneID:    scene,
			GroupID:          session,
			RecordedAt:       now,
		}
	}
}

// HistoryOf returns a copy of the subject's most recent group record.
func (r *Registry) HistoryOf(subject model.SubjectID) *model.GroupHistory {
	r.histMu.RLock()
	defer r.histMu.RUnlock()
	h, ok := r.history[subject]
	if !ok {
		return nil
	}
	partners := make(map[model.SubjectID]struct{}, len(h.PreviousPartners))
	for p := range h.PreviousPartners {
		partners[p] = struct{}{}
	}
	return &model.GroupHistory{
		PreviousPartners: partners,
		SourceSceneID:    h.SourceSceneID,
		GroupID:          h.GroupID,
		RecordedAt:       h.RecordedAt,
	}
}

// Candidate assembles the matchmaker's view of one participant.
func (r *Registry) Candidate(subject model.SubjectID) (model.MatchCandidate, bool) {
	p, ok := r.Get(subject)
	if !ok {
		return model.MatchCandidate{}, false
	}
	return model.MatchCandidate{
		SubjectID:        p.SubjectID,
		RTTMs:            p.RTTMs,
		RTTKnown:         p.RTTKnown,
		History:          r.HistoryOf(subject),
		CustomAttributes: p.CustomAttributes,
	}, true
}

// HardEvict removes the participant and its group history. Only the
// retention sweep calls this.
func (r *Registry) HardEvict(subject model.SubjectID) {
	r.mu.Lock()
	delete(r.participants, subject)
	r.mu.Unlock()

	r.histMu.Lock()
	delete(r.history, subject)
	r.histMu.Unlock()

	r.logger.Info("participant evicted", slog.String("subject_id", string(subject)))
}

func (r *Registry) mutate(subject model.SubjectID, fn func(*model.Participant)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[subject]
	if !ok {
		return ErrUnknownSubject
	}
	fn(p)
	p.LastUpdatedAt = time.Now()
	return nil
}

func (r *Registry) filter(keep func(*model.Participant) bool) []model.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		if keep(p) {
			out = append(out, *p)
		}
	}
	return out
}
