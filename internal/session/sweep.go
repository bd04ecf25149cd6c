package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/interactionlab/tandem/internal/domain/event"
	"github.com/interactionlab/tandem/internal/domain/state"
)

// janitor runs the periodic cleanup passes: expired loading grace,
// waitroom timeouts, participant retention and ended-session retirement.
// Everything it does goes through the same code paths the live handlers
// use, so the sweeps never invent a second teardown semantics.
func (m *Manager) janitor(stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.Timeouts.SweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.sweep(context.Background())
		}
	}
}

func (m *Manager) sweep(ctx context.Context) {
	now := timeNow()
	m.grace.Sweep()
	m.sweepGraceExpiry(ctx)
	m.sweepWaitroomTimeouts(ctx, now)
	m.sweepRetention(ctx, now)
	m.sweepEndedSessions(now)
}

// sweepGraceExpiry finishes disconnects that the loading grace swallowed.
// A subject can only still be IN_GAME or IN_WAITROOM while disconnected if
// a grace window shielded the drop; once the window is gone, the deferred
// teardown runs.
func (m *Manager) sweepGraceExpiry(ctx context.Context) {
	for _, p := range m.registry.Snapshot() {
		if p.IsConnected || m.grace.InGrace(p.SubjectID) {
			continue
		}
		switch p.State {
		case state.ParticipantInGame:
			if p.GroupID != "" {
				m.logger.Info("loading grace expired mid-game, ending session",
					slog.String("subject_id", string(p.SubjectID)),
					slog.String("session_id", string(p.GroupID)))
				_ = m.EndSession(ctx, p.GroupID, state.ReasonPartnerDisconnected, "")
			}
		case state.ParticipantInWaitroom:
			m.rooms.Remove(p.SceneID, p.SubjectID)
			if _, err := m.registry.Transition(p.SubjectID, state.ParticipantIdle); err == nil {
				m.publishState(ctx, p.SubjectID, state.ParticipantInWaitroom, state.ParticipantIdle)
			}
			m.publish(ctx, event.TopicWaitroomChanged, event.WaitroomChangedEvent{
				SceneID: p.SceneID, SubjectID: p.SubjectID, Change: "left", Size: m.rooms.Len(p.SceneID),
			})
		}
	}
}

// sweepWaitroomTimeouts bounces participants whose queue wait exceeded the
// scene's waitroom_timeout_ms back to IDLE, with a client notification so
// the UI can offer a retry.
func (m *Manager) sweepWaitroomTimeouts(ctx context.Context, now time.Time) {
	for _, sceneID := range m.rooms.Scenes() {
		sc, ok := m.scenes.Get(sceneID)
		if !ok || sc.WaitroomTimeoutMs <= 0 {
			continue
		}
		cutoff := now.Add(-time.Duration(sc.WaitroomTimeoutMs) * time.Millisecond)
		for _, e := range m.rooms.ExpiredBefore(sceneID, cutoff) {
			if _, err := m.registry.Transition(e.Subject, state.ParticipantIdle); err == nil {
				m.publishState(ctx, e.Subject, state.ParticipantInWaitroom, state.ParticipantIdle)
			}
			m.hub.EmitToSubject(e.Subject, event.NewOutbound(e.Subject, event.WaitroomLeft,
				event.WaitroomLeftPayload{SceneID: sceneID, Reason: "timeout"}))
			m.publish(ctx, event.TopicWaitroomChanged, event.WaitroomChangedEvent{
				SceneID: sceneID, SubjectID: e.Subject, Change: "timeout", Size: m.rooms.Len(sceneID),
			})
			m.logger.Info("waitroom timeout",
				slog.String("subject_id", string(e.Subject)),
				slog.String("scene_id", string(sceneID)))
		}
	}
}

// sweepRetention evicts participants that stayed disconnected past the
// retention window. Recovery tokens stop working at this point.
func (m *Manager) sweepRetention(ctx context.Context, now time.Time) {
	retention := m.cfg.Timeouts.ParticipantRetention()
	for _, p := range m.registry.Snapshot() {
		if p.IsConnected || now.Sub(p.LastUpdatedAt) < retention {
			continue
		}
		if p.State == state.ParticipantInGame && p.GroupID != "" {
			_ = m.EndSession(ctx, p.GroupID, state.ReasonPartnerDisconnected, "")
		}
		m.rooms.Remove(p.SceneID, p.SubjectID)
		m.grace.Drop(p.SubjectID)
		m.registry.HardEvict(p.SubjectID)
	}
}

// sweepEndedSessions retires terminal sessions once the audit collection
// window has certainly closed.
func (m *Manager) sweepEndedSessions(now time.Time) {
	retention := m.cfg.Timeouts.AuditRetention()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.sessions {
		sess.Lock()
		gone := sess.State.IsTerminal() && !sess.EndedAt.IsZero() &&
			now.Sub(sess.EndedAt) > retention
		sess.Unlock()
		if gone {
			delete(m.sessions, id)
		}
	}
}
