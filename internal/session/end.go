package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/interactionlab/tandem/internal/domain/event"
	"github.com/interactionlab/tandem/internal/domain/model"
	"github.com/interactionlab/tandem/internal/domain/state"
)

// timeNow is swappable for deterministic tests.
var timeNow = time.Now

// EndSession is the idempotent teardown. The first caller to take the
// session lock wins and applies its reason; racers observe ENDED, leave
// their reason in the late list, and return without side effects. Safe
// from every exit path: normal completion, disconnects, exclusions,
// retention sweeps.
func (m *Manager) EndSession(ctx context.Context, id model.SessionID, reason state.TerminationReason, rawReason string) error {
	sess, ok := m.lookup(id)
	if !ok {
		return ErrUnknownSession
	}

	sess.Lock()
	if sess.State.IsTerminal() {
		sess.LateReasons = append(sess.LateReasons, reason)
		sess.Unlock()
		return nil
	}
	wasPlaying := sess.State == state.SessionPlaying
	sess.State = state.SessionEnded
	sess.EndedAt = timeNow()
	sess.TerminationReason = reason
	sess.RawExclusionReason = rawReason
	subjects := append([]model.SubjectID(nil), sess.Participants...)
	sceneID := sess.SceneID
	duration := sess.Duration()
	endedAt := sess.EndedAt
	sess.Unlock()

	if wasPlaying {
		for _, s := range subjects {
			if _, err := m.registry.Transition(s, state.ParticipantGameEnded); err != nil {
				m.logger.Warn("participant did not reach game_ended",
					slog.String("subject_id", string(s)),
					slog.Any("err", err))
				continue
			}
			m.publishState(ctx, s, state.ParticipantInGame, state.ParticipantGameEnded)
		}
		// Group history only records groups that actually played together.
		m.registry.RecordGroup(subjects, sceneID, id)
	}

	msg := ""
	if sc, ok := m.scenes.Get(sceneID); ok {
		msg = sc.MessageFor(reason)
	}
	room := roomName(id)
	m.hub.EmitToRoom(room, event.NewBroadcast(event.SessionEnded, event.SessionEndedPayload{
		SessionID: id,
		Reason:    reason,
		Message:   msg,
	}))
	m.hub.DropRoom(room)

	m.logger.Info("session ended",
		slog.String("session_id", string(id)),
		slog.String("reason", reason.String()),
		slog.Int64("duration_ms", duration.Milliseconds()))

	var expected []model.SubjectID
	if wasPlaying {
		expected = subjects
	}
	m.publish(ctx, event.TopicSessionEnded, event.SessionEndedEvent{
		SessionID:       id,
		SceneID:         sceneID,
		Participants:    subjects,
		Reason:          reason,
		RawReason:       rawReason,
		DurationMs:      duration.Milliseconds(),
		EndedAt:         endedAt,
		ExpectedExports: expected,
	})
	return nil
}

// ValidateExclusion checks a mid-game exclusion claim: the session must
// exist, be PLAYING, and contain the reporting subject.
func (m *Manager) ValidateExclusion(id model.SessionID, subject model.SubjectID) error {
	sess, ok := m.lookup(id)
	if !ok {
		return ErrUnknownSession
	}
	sess.Lock()
	defer sess.Unlock()
	if !sess.Has(subject) {
		return ErrNotParticipant
	}
	if sess.State != state.SessionPlaying {
		return ErrUnknownSession
	}
	return nil
}

// LeaveGame handles an explicit leave: a waitroom exit back to IDLE, or a
// voluntary session end (the normal end-of-game path driven by clients).
func (m *Manager) LeaveGame(ctx context.Context, subject model.SubjectID, sessionID model.SessionID) {
	p, ok := m.registry.Get(subject)
	if !ok {
		m.emitError(subject, "unknown_subject", "not registered")
		return
	}

	switch p.State {
	case state.ParticipantInWaitroom:
		if _, err := m.registry.Transition(subject, state.ParticipantIdle); err != nil {
			m.emitError(subject, "invalid_state", "cannot leave waitroom")
			return
		}
		m.rooms.Remove(p.SceneID, subject)
		m.hub.EmitToSubject(subject, event.NewOutbound(subject, event.WaitroomLeft,
			event.WaitroomLeftPayload{SceneID: p.SceneID, Reason: "explicit"}))
		m.publish(ctx, event.TopicWaitroomChanged, event.WaitroomChangedEvent{
			SceneID: p.SceneID, SubjectID: subject, Change: "left", Size: m.rooms.Len(p.SceneID),
		})
		m.publishState(ctx, subject, state.ParticipantInWaitroom, state.ParticipantIdle)

	case state.ParticipantInGame:
		id := sessionID
		if id == "" {
			id = p.GroupID
		}
		if id == "" || id != p.GroupID {
			m.emitError(subject, "unknown_session", "leave_game names a session you are not in")
			return
		}
		if err := m.EndSession(ctx, id, state.ReasonNormal, "participant left"); err != nil {
			m.emitError(subject, "unknown_session", "session already gone")
		}

	default:
		m.emitError(subject, "invalid_state",
			"leave_game is only valid from a waitroom or a running game")
	}
}

// AdvanceScene moves a finished participant to the next content unit,
// resetting GAME_ENDED back to IDLE.
func (m *Manager) AdvanceScene(ctx context.Context, subject model.SubjectID, sceneID model.SceneID) {
	if _, ok := m.scenes.Get(sceneID); !ok {
		m.emitError(subject, "unknown_scene", "scene is not configured")
		return
	}
	if _, err := m.registry.Transition(subject, state.ParticipantIdle); err != nil {
		m.emitError(subject, "invalid_state", "advance_scene requires a finished game")
		return
	}
	_ = m.registry.SetScene(subject, sceneID)
	_ = m.registry.SetGroup(subject, "")
	m.publishState(ctx, subject, state.ParticipantGameEnded, state.ParticipantIdle)
}

// OnDisconnect is the hub's disconnect callback. The loading-grace check
// runs before anything destructive: a participant blocked on WASM compile
// keeps its session and stager across the drop.
func (m *Manager) OnDisconnect(subject model.SubjectID, connID model.ConnectionID, stale bool) {
	ctx := context.Background()

	if stale {
		// Superseded connection of a reconnecting client; the new socket
		// already owns the subject.
		m.logger.Debug("ignoring stale disconnect",
			slog.String("subject_id", string(subject)),
			slog.String("conn_id", string(connID)))
		return
	}

	if p, ok := m.registry.Get(subject); ok && p.CurrentConnection != connID {
		// The subject already rebound to a newer connection.
		return
	}

	if m.grace.InGrace(subject) {
		_ = m.registry.MarkDisconnected(subject)
		m.logger.Info("disconnect within loading grace, preserving state",
			slog.String("subject_id", string(subject)))
		m.publish(ctx, event.TopicParticipantDisconnected, event.ParticipantDisconnectedEvent{
			SubjectID: subject, Grace: true,
		})
		return
	}

	p, ok := m.registry.Get(subject)
	if !ok {
		return
	}
	_ = m.registry.MarkDisconnected(subject)
	m.publish(ctx, event.TopicParticipantDisconnected, event.ParticipantDisconnectedEvent{
		SubjectID: subject,
	})

	switch p.State {
	case state.ParticipantInWaitroom:
		m.rooms.Remove(p.SceneID, subject)
		if _, err := m.registry.Transition(subject, state.ParticipantIdle); err == nil {
			m.publishState(ctx, subject, state.ParticipantInWaitroom, state.ParticipantIdle)
		}
		m.publish(ctx, event.TopicWaitroomChanged, event.WaitroomChangedEvent{
			SceneID: p.SceneID, SubjectID: subject, Change: "left", Size: m.rooms.Len(p.SceneID),
		})

	case state.ParticipantInGame:
		if p.GroupID != "" {
			_ = m.EndSession(ctx, p.GroupID, state.ReasonPartnerDisconnected, "")
		}
	}
}
