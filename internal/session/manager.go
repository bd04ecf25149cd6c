package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/interactionlab/tandem/config"
	"github.com/interactionlab/tandem/internal/adapter/pubsub"
	"github.com/interactionlab/tandem/internal/domain/event"
	"github.com/interactionlab/tandem/internal/domain/model"
	"github.com/interactionlab/tandem/internal/domain/state"
	"github.com/interactionlab/tandem/internal/grace"
	"github.com/interactionlab/tandem/internal/matchmaker"
	"github.com/interactionlab/tandem/internal/probe"
	"github.com/interactionlab/tandem/internal/registry"
	"github.com/interactionlab/tandem/internal/scene"
	"github.com/interactionlab/tandem/internal/transport"
)

var (
	// ErrUnknownSession means the session id has no live record.
	ErrUnknownSession = errors.New("unknown session")
	// ErrNotParticipant means the subject is not in the session's group.
	ErrNotParticipant = errors.New("subject not in session")
)

// Prober is the gate the manager drives before committing a group.
type Prober interface {
	Probe(ctx context.Context, group []model.SubjectID) probe.Result
}

// Manager owns the SESSIONS table and is the single authoritative path
// for creating, transitioning and destroying sessions. It coordinates the
// registry, the waitrooms, the probe gate and the transport hub, and
// mirrors every lifecycle change onto the observer bus.
type Manager struct {
	logger     *slog.Logger
	cfg        *config.Config
	registry   *registry.Registry
	scenes     *scene.Store
	rooms      *matchmaker.Rooms
	prober     Prober
	hub        transport.Hubber
	dispatcher pubsub.EventDispatcher
	grace      *grace.Table

	mu       sync.RWMutex
	sessions map[model.SessionID]*model.Session
}

func NewManager(
	logger *slog.Logger,
	cfg *config.Config,
	reg *registry.Registry,
	scenes *scene.Store,
	rooms *matchmaker.Rooms,
	prober Prober,
	hub transport.Hubber,
	dispatcher pubsub.EventDispatcher,
	graceTable *grace.Table,
) *Manager {
	return &Manager{
		logger:     logger.With(slog.String("component", "session_manager")),
		cfg:        cfg,
		registry:   reg,
		scenes:     scenes,
		rooms:      rooms,
		prober:     prober,
		hub:        hub,
		dispatcher: dispatcher,
		grace:      graceTable,
		sessions:   make(map[model.SessionID]*model.Session),
	}
}

func roomName(id model.SessionID) string { return "session:" + string(id) }

// AddSubjectToGame is the waitroom-entry path: gate on lifecycle state,
// ask the scene's matchmaker for a group, and either enqueue the arrival
// or drive the proposed group through the probe gate into PLAYING.
func (m *Manager) AddSubjectToGame(ctx context.Context, subject model.SubjectID, sceneID model.SceneID) {
	p, ok := m.registry.Get(subject)
	if !ok {
		m.emitError(subject, "unknown_subject", "register before joining a game")
		return
	}
	if !p.State.CanJoinWaitroom() {
		m.logger.Warn("waitroom entry rejected",
			slog.String("subject_id", string(subject)),
			slog.String("state", p.State.String()))
		m.emitError(subject, "invalid_state",
			fmt.Sprintf("cannot join waitroom from state %s", p.State))
		return
	}

	sc, ok := m.scenes.Get(sceneID)
	if !ok {
		m.emitError(subject, "unknown_scene", fmt.Sprintf("scene %q is not configured", sceneID))
		return
	}

	matcher, err := matchmaker.New(sc.Matchmaker.Name, sc.Matchmaker.Params)
	if err != nil {
		m.logger.Error("scene matchmaker misconfigured",
			slog.String("scene_id", string(sceneID)),
			slog.Any("err", err))
		m.emitError(subject, "scene_misconfigured", "scene matchmaker is misconfigured")
		return
	}

	_ = m.registry.SetScene(subject, sceneID)

	arriving, ok := m.registry.Candidate(subject)
	if !ok {
		m.emitError(subject, "unknown_subject", "register before joining a game")
		return
	}
	waiting := m.waitingCandidates(sc, arriving)

	group, matched := matcher.FindMatch(arriving, waiting, sc.GroupSize)
	if !matched {
		m.enqueue(ctx, subject, sceneID)
		return
	}

	subjects := make([]model.SubjectID, len(group))
	for i, c := range group {
		subjects[i] = c.SubjectID
	}
	m.commitGroup(ctx, sc, matcher, arriving, subjects)
}

// waitingCandidates snapshots the scene's queue as matchmaker input,
// dropping candidates whose registry record vanished and, when the scene
// sets a server-RTT-sum bound, candidates whose measured RTT summed with
// the arrival's exceeds it. Unknown RTT on either side counts compatible.
func (m *Manager) waitingCandidates(sc scene.Scene, arriving model.MatchCandidate) []model.MatchCandidate {
	entries := m.rooms.List(sc.ID)
	waiting := make([]model.MatchCandidate, 0, len(entries))
	for _, e := range entries {
		c, ok := m.registry.Candidate(e.Subject)
		if !ok {
			continue
		}
		if sc.MaxServerRTTSumMs != nil && arriving.RTTKnown && c.RTTKnown &&
			arriving.RTTMs+c.RTTMs > *sc.MaxServerRTTSumMs {
			continue
		}
		waiting = append(waiting, c)
	}
	return waiting
}

func (m *Manager) enqueue(ctx context.Context, subject model.SubjectID, sceneID model.SceneID) {
	if _, err := m.registry.Transition(subject, state.ParticipantInWaitroom); err != nil {
		m.emitError(subject, "invalid_state", "cannot enter waitroom")
		return
	}
	pos, size := m.rooms.Enqueue(sceneID, subject)

	m.hub.EmitToSubject(subject, event.NewOutbound(subject, event.WaitroomJoined,
		event.WaitroomJoinedPayload{SceneID: sceneID, Position: pos}))
	m.publish(ctx, event.TopicWaitroomChanged, event.WaitroomChangedEvent{
		SceneID: sceneID, SubjectID: subject, Change: "joined", Size: size,
	})
	m.publishState(ctx, subject, state.ParticipantIdle, state.ParticipantInWaitroom)
}

// commitGroup runs spec steps 6-8: pending session, probe gate, PLAYING.
func (m *Manager) commitGroup(ctx context.Context, sc scene.Scene, matcher matchmaker.Matchmaker, arriving model.MatchCandidate, subjects []model.SubjectID) {
	sess := model.NewSession(sc.ID, subjects)
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	// Waiters leave the queue but stay IN_WAITROOM until PLAYING; the
	// arrival joins them there so a failed probe leaves a uniform picture.
	removed := m.rooms.RemoveMany(sc.ID, subjects)
	if _, err := m.registry.Transition(arriving.SubjectID, state.ParticipantInWaitroom); err != nil {
		m.logger.Error("arrival cannot enter matched state", slog.Any("err", err))
	}
	m.publishState(ctx, arriving.SubjectID, state.ParticipantIdle, state.ParticipantInWaitroom)
	for _, s := range subjects {
		_ = m.registry.SetGroup(s, sess.ID)
	}

	reunion := isReunion(matcher, arriving, subjects)

	sess.Lock()
	sess.State = state.SessionMatched
	sess.MatchedAt = timeNow()
	sess.Unlock()

	m.publish(ctx, event.TopicSessionMatched, event.SessionMatchedEvent{
		SessionID:    sess.ID,
		SceneID:      sc.ID,
		Participants: subjects,
		Matchmaker:   matcher.Name(),
		Reunion:      reunion,
		MatchedAt:    sess.MatchedAt,
	})

	if sc.MaxP2PRTTMs != nil {
		sess.Lock()
		sess.State = state.SessionValidating
		sess.Unlock()

		res := m.prober.Probe(ctx, subjects)
		m.publish(ctx, event.TopicProbeFinished, event.ProbeFinishedEvent{
			SessionID: sess.ID,
			Outcome:   string(res.Outcome),
			RTTs:      res.RTTs,
			Reason:    res.Reason,
		})

		if res.Outcome != probe.OutcomeOK || res.MaxRTTMs > *sc.MaxP2PRTTMs {
			m.rejectProposedGroup(ctx, sess, sc, subjects, removed, arriving.SubjectID, res)
			return
		}

		sess.Lock()
		for k, v := range res.RTTs {
			sess.ProbeRTTs[k] = v
		}
		sess.Unlock()
	}

	m.startPlaying(ctx, sess, sc, matcher.Name(), reunion)
}

// isReunion reports whether the group is the arrival's previous group
// meeting again, for the match log and the clients' UI.
func isReunion(matcher matchmaker.Matchmaker, arriving model.MatchCandidate, subjects []model.SubjectID) bool {
	if matcher.Name() != "group_reunion" || arriving.History == nil {
		return false
	}
	for _, s := range subjects {
		if s == arriving.SubjectID {
			continue
		}
		if !arriving.History.WasPartneredWith(s) {
			return false
		}
	}
	return true
}

// rejectProposedGroup tears down a session whose probe did not pass:
// candidates return to the waitroom (original positions, or the tail when
// configured) and each gets a probe_failed event. No session_ended is
// broadcast; the group never started.
func (m *Manager) rejectProposedGroup(ctx context.Context, sess *model.Session, sc scene.Scene, subjects []model.SubjectID, removed []matchmaker.Entry, arrival model.SubjectID, res probe.Result) {
	reason := res.Reason
	if reason == "" {
		reason = string(res.Outcome)
	}
	if res.Outcome == probe.OutcomeOK {
		reason = fmt.Sprintf("measured p2p rtt %.0fms above scene threshold", res.MaxRTTMs)
	}

	sess.Lock()
	sess.State = state.SessionEnded
	sess.TerminationReason = state.ReasonProbeFailed
	sess.RawExclusionReason = reason
	sess.EndedAt = timeNow()
	sess.Unlock()

	if m.cfg.Matchmaking.RequeueToTail {
		m.rooms.RequeueTail(sc.ID, removed)
		m.rooms.Enqueue(sc.ID, arrival)
	} else {
		m.rooms.Requeue(sc.ID, removed)
		m.rooms.Enqueue(sc.ID, arrival)
	}

	// Requeued participants belong to no session; a lingering binding would
	// point registry snapshots at the rejected one.
	for _, s := range subjects {
		_ = m.registry.SetGroup(s, "")
	}

	for _, s := range subjects {
		m.hub.EmitToSubject(s, event.NewOutbound(s, event.ProbeFailed,
			event.ProbeFailedPayload{Reason: reason}))
	}

	m.logger.Info("proposed group rejected by probe",
		slog.String("session_id", string(sess.ID)),
		slog.String("scene_id", string(sc.ID)),
		slog.String("reason", reason))

	m.publish(ctx, event.TopicSessionEnded, event.SessionEndedEvent{
		SessionID:    sess.ID,
		SceneID:      sc.ID,
		Participants: subjects,
		Reason:       state.ReasonProbeFailed,
		RawReason:    reason,
		EndedAt:      sess.EndedAt,
	})
}

func (m *Manager) startPlaying(ctx context.Context, sess *model.Session, sc scene.Scene, matcherName string, reunion bool) {
	sess.Lock()
	if !sess.State.CanTransitionTo(state.SessionPlaying) {
		// A disconnect raced the probe and already ended the session.
		sess.Unlock()
		return
	}
	sess.State = state.SessionPlaying
	sess.PlayingAt = timeNow()
	subjects := append([]model.SubjectID(nil), sess.Participants...)
	rtts := make(map[string]float64, len(sess.ProbeRTTs))
	for k, v := range sess.ProbeRTTs {
		rtts[k] = v
	}
	playingAt := sess.PlayingAt
	sess.Unlock()

	room := roomName(sess.ID)
	for _, s := range subjects {
		if _, err := m.registry.Transition(s, state.ParticipantInGame); err != nil {
			m.logger.Error("participant cannot enter game",
				slog.String("subject_id", string(s)),
				slog.Any("err", err))
			_ = m.EndSession(ctx, sess.ID, state.ReasonPartnerDisconnected, "participant lost before start")
			return
		}
		m.publishState(ctx, s, state.ParticipantInWaitroom, state.ParticipantInGame)
	}

	for i, s := range subjects {
		if connID, ok := m.hub.ConnIDOf(s); ok {
			m.hub.JoinRoom(room, connID)
		}
		m.hub.EmitToSubject(s, event.NewOutbound(s, event.GameStart, event.GameStartPayload{
			SessionID:    sess.ID,
			SceneID:      sc.ID,
			Participants: subjects,
			Slot:         i,
			Reunion:      reunion,
		}))
	}

	m.logger.Info("session playing",
		slog.String("session_id", string(sess.ID)),
		slog.String("scene_id", string(sc.ID)),
		slog.Int("group_size", len(subjects)))

	m.publish(ctx, event.TopicSessionStarted, event.SessionStartedEvent{
		SessionID:    sess.ID,
		SceneID:      sc.ID,
		Participants: subjects,
		Matchmaker:   matcherName,
		Reunion:      reunion,
		ProbeRTTs:    rtts,
		PlayingAt:    playingAt,
	})
}

func (m *Manager) lookup(id model.SessionID) (*model.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

func (m *Manager) emitError(subject model.SubjectID, code, msg string) {
	m.hub.EmitToSubject(subject, event.NewOutbound(subject, event.Error,
		event.ErrorPayload{Code: code, Message: msg}))
}

func (m *Manager) publish(ctx context.Context, topic string, payload any) {
	if err := m.dispatcher.Publish(ctx, topic, payload); err != nil {
		m.logger.Error("bus publish failed",
			slog.String("topic", topic),
			slog.Any("err", err))
	}
}

func (m *Manager) publishState(ctx context.Context, subject model.SubjectID, from, to state.ParticipantState) {
	m.publish(ctx, event.TopicParticipantState, event.ParticipantStateEvent{
		SubjectID: subject, From: from, To: to,
	})
}
