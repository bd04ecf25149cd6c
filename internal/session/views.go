package session

import (
	"github.com/interactionlab/tandem/internal/domain/model"
	"github.com/interactionlab/tandem/internal/domain/state"
)

// Membership reports whether the subject belongs to a live (non-terminal)
// session. The relay gates every forwarded frame on this.
func (m *Manager) Membership(id model.SessionID, subject model.SubjectID) bool {
	sess, ok := m.lookup(id)
	if !ok {
		return false
	}
	sess.Lock()
	defer sess.Unlock()
	return !sess.State.IsTerminal() && sess.Has(subject)
}

// Peers returns the other members of the session, for relay fan-out.
func (m *Manager) Peers(id model.SessionID, subject model.SubjectID) []model.SubjectID {
	sess, ok := m.lookup(id)
	if !ok {
		return nil
	}
	sess.Lock()
	defer sess.Unlock()
	if sess.State.IsTerminal() {
		return nil
	}
	peers := make([]model.SubjectID, 0, len(sess.Participants)-1)
	for _, p := range sess.Participants {
		if p != subject {
			peers = append(peers, p)
		}
	}
	return peers
}

// RecordHealth stores the latest peer-link snapshot for the subject.
func (m *Manager) RecordHealth(id model.SessionID, subject model.SubjectID, h model.P2PHealth) error {
	sess, ok := m.lookup(id)
	if !ok {
		return ErrUnknownSession
	}
	sess.Lock()
	defer sess.Unlock()
	if !sess.Has(subject) {
		return ErrNotParticipant
	}
	sess.P2PHealth[subject] = h
	return nil
}

// BumpEpisode advances the session's episode counter and returns the new
// value. Driven by relayed episode boundaries.
func (m *Manager) BumpEpisode(id model.SessionID) (int, error) {
	sess, ok := m.lookup(id)
	if !ok {
		return 0, ErrUnknownSession
	}
	sess.Lock()
	defer sess.Unlock()
	if sess.State != state.SessionPlaying {
		return sess.CurrentEpisode, nil
	}
	sess.CurrentEpisode++
	return sess.CurrentEpisode, nil
}

// View copies out one session for the read surfaces.
func (m *Manager) View(id model.SessionID) (model.SessionView, bool) {
	sess, ok := m.lookup(id)
	if !ok {
		return model.SessionView{}, false
	}
	sess.Lock()
	defer sess.Unlock()
	return sess.View(), true
}

// Views copies out every tracked session.
func (m *Manager) Views() []model.SessionView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.SessionView, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sess.Lock()
		out = append(out, sess.View())
		sess.Unlock()
	}
	return out
}
