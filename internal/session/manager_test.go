package session

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interactionlab/tandem/config"
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

type emitted struct {
	subject model.SubjectID
	kind    event.Kind
	payload any
}

// fakeHub captures emissions and room membership without sockets.
type fakeHub struct {
	mu     sync.Mutex
	events []emitted
	rooms  map[string]map[model.ConnectionID]struct{}
}

var _ transport.Hubber = (*fakeHub)(nil)

func newFakeHub() *fakeHub {
	return &fakeHub{rooms: make(map[string]map[model.ConnectionID]struct{})}
}

func (f *fakeHub) EmitToSubject(subject model.SubjectID, ev event.Eventer) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{subject, ev.GetKind(), ev.GetPayload()})
	return true
}

func (f *fakeHub) EmitToConn(model.ConnectionID, event.Eventer) bool { return true }

func (f *fakeHub) EmitToRoom(room string, ev event.Eventer) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.rooms[room])
	f.events = append(f.events, emitted{"", ev.GetKind(), ev.GetPayload()})
	return n
}

func (f *fakeHub) Broadcast(event.Eventer) int { return 0 }

func (f *fakeHub) JoinRoom(room string, connID model.ConnectionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.rooms[room]
	if !ok {
		members = make(map[model.ConnectionID]struct{})
		f.rooms[room] = members
	}
	members[connID] = struct{}{}
}

func (f *fakeHub) LeaveRoom(room string, connID model.ConnectionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms[room], connID)
}

func (f *fakeHub) DropRoom(room string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, room)
}

func (f *fakeHub) IsConnected(model.SubjectID) bool { return true }

func (f *fakeHub) ConnIDOf(subject model.SubjectID) (model.ConnectionID, bool) {
	return model.ConnectionID("conn-" + string(subject)), true
}

func (f *fakeHub) CloseSubject(model.SubjectID) {}

func (f *fakeHub) kindsFor(subject model.SubjectID) []event.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []event.Kind
	for _, e := range f.events {
		if e.subject == subject {
			out = append(out, e.kind)
		}
	}
	return out
}

func (f *fakeHub) has(subject model.SubjectID, kind event.Kind) bool {
	for _, k := range f.kindsFor(subject) {
		if k == kind {
			return true
		}
	}
	return false
}

func (f *fakeHub) roomSize(room string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rooms[room])
}

// fakeDispatcher records bus topics in publish order.
type fakeDispatcher struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakeDispatcher) Publish(_ context.Context, topic string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	return nil
}

func (f *fakeDispatcher) Publisher() message.Publisher { return nil }

func (f *fakeDispatcher) count(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.topics {
		if t == topic {
			n++
		}
	}
	return n
}

type fakeProber struct {
	mu     sync.Mutex
	result probe.Result
	calls  int
}

func (f *fakeProber) Probe(context.Context, []model.SubjectID) probe.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result
}

type fixture struct {
	manager    *Manager
	registry   *registry.Registry
	scenes     *scene.Store
	rooms      *matchmaker.Rooms
	hub        *fakeHub
	dispatcher *fakeDispatcher
	prober     *fakeProber
	grace      *grace.Table
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Timeouts: config.Timeouts{
			LoadingTimeoutMs:       60000,
			ParticipantRetentionMs: 300000,
			AuditRetentionMs:       60000,
			SweepIntervalMs:        10000,
		},
	}
	f := &fixture{
		registry:   registry.New(logger),
		scenes:     scene.NewStore(logger),
		rooms:      matchmaker.NewRooms(),
		hub:        newFakeHub(),
		dispatcher: &fakeDispatcher{},
		prober:     &fakeProber{result: probe.Result{Outcome: probe.OutcomeOK}},
		grace:      grace.NewTable(logger, time.Minute),
	}
	f.manager = NewManager(logger, cfg, f.registry, f.scenes, f.rooms,
		f.prober, f.hub, f.dispatcher, f.grace)
	return f
}

func (f *fixture) register(t *testing.T, conn string) model.SubjectID {
	t.Helper()
	subject, recovered := f.registry.RegisterOrRecover(model.ConnectionID(conn), "")
	require.False(t, recovered)
	return subject
}

func (f *fixture) stateOf(t *testing.T, subject model.SubjectID) state.ParticipantState {
	t.Helper()
	p, ok := f.registry.Get(subject)
	require.True(t, ok)
	return p.State
}

func (f *fixture) sessionOf(t *testing.T, subject model.SubjectID) *model.Session {
	t.Helper()
	p, ok := f.registry.Get(subject)
	require.True(t, ok)
	require.NotEmpty(t, p.GroupID)
	sess, ok := f.manager.lookup(p.GroupID)
	require.True(t, ok)
	return sess
}

// loadScenes writes a scenes file into a temp dir and loads it, for tests
// that need knobs the built-in default scene does not carry.
func (f *fixture) loadScenes(t *testing.T, yaml string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	require.NoError(t, f.scenes.Load(path))
}

func TestPairMatchesAndStartsPlaying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "c1")
	b := f.register(t, "c2")

	f.manager.AddSubjectToGame(ctx, a, "maze")
	assert.Equal(t, state.ParticipantInWaitroom, f.stateOf(t, a))
	assert.Equal(t, 1, f.rooms.Len("maze"))
	assert.True(t, f.hub.has(a, event.WaitroomJoined))

	f.manager.AddSubjectToGame(ctx, b, "maze")
	assert.Equal(t, state.ParticipantInGame, f.stateOf(t, a))
	assert.Equal(t, state.ParticipantInGame, f.stateOf(t, b))
	assert.Equal(t, 0, f.rooms.Len("maze"), "both left the queue")

	require.True(t, f.hub.has(a, event.GameStart))
	require.True(t, f.hub.has(b, event.GameStart))

	sess := f.sessionOf(t, a)
	assert.Equal(t, state.SessionPlaying, sess.State)
	assert.Equal(t, 2, f.hub.roomSize(roomName(sess.ID)), "both joined the session room")
	assert.Equal(t, 0, f.prober.calls, "no probe without a scene threshold")

	assert.Equal(t, 1, f.dispatcher.count(event.TopicSessionMatched))
	assert.Equal(t, 1, f.dispatcher.count(event.TopicSessionStarted))
}

func TestGameStartSlotsFollowGroupOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "c1")
	b := f.register(t, "c2")

	f.manager.AddSubjectToGame(ctx, a, "maze")
	f.manager.AddSubjectToGame(ctx, b, "maze")

	f.hub.mu.Lock()
	defer f.hub.mu.Unlock()
	slots := map[model.SubjectID]int{}
	for _, e := range f.hub.events {
		if p, ok := e.payload.(event.GameStartPayload); ok {
			slots[e.subject] = p.Slot
		}
	}
	// The waiter queued first, so it holds slot 0; the arrival is last.
	assert.Equal(t, 0, slots[a])
	assert.Equal(t, 1, slots[b])
}

func TestJoinRejectedWhileInGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "c1")
	b := f.register(t, "c2")
	f.manager.AddSubjectToGame(ctx, a, "maze")
	f.manager.AddSubjectToGame(ctx, b, "maze")

	f.manager.AddSubjectToGame(ctx, a, "maze")
	assert.True(t, f.hub.has(a, event.Error))
	assert.Equal(t, state.ParticipantInGame, f.stateOf(t, a), "state untouched")
}

func TestProbeFailureRequeuesAtOriginalPositions(t *testing.T) {
	f := newFixture(t)
	f.loadScenes(t, `
scenes:
  - id: gated
    group_size: 2
    matchmaker:
      name: fifo
    max_p2p_rtt_ms: 100
`)
	f.prober.result = probe.Result{Outcome: probe.OutcomeFailed, Reason: "ice failed"}
	ctx := context.Background()
	a := f.register(t, "c1")
	b := f.register(t, "c2")

	f.manager.AddSubjectToGame(ctx, a, "gated")
	f.manager.AddSubjectToGame(ctx, b, "gated")

	require.Equal(t, 1, f.prober.calls)
	assert.Equal(t, state.ParticipantInWaitroom, f.stateOf(t, a))
	assert.Equal(t, state.ParticipantInWaitroom, f.stateOf(t, b))
	assert.Equal(t, 2, f.rooms.Len("gated"))

	// The longest waiter is back at the head of the queue.
	entries := f.rooms.List("gated")
	assert.Equal(t, a, entries[0].Subject)

	assert.True(t, f.hub.has(a, event.ProbeFailed))
	assert.True(t, f.hub.has(b, event.ProbeFailed))
	assert.False(t, f.hub.has(a, event.GameStart))
	assert.Equal(t, 1, f.dispatcher.count(event.TopicProbeFinished))
	assert.Equal(t, 1, f.dispatcher.count(event.TopicSessionEnded))
}

func TestSceneRTTSumPrefilterSkipsLaggyPairs(t *testing.T) {
	f := newFixture(t)
	f.loadScenes(t, `
scenes:
  - id: filtered
    group_size: 2
    matchmaker:
      name: fifo
    max_server_rtt_sum_ms: 100
`)
	ctx := context.Background()
	a := f.register(t, "c1")
	b := f.register(t, "c2")
	c := f.register(t, "c3")
	require.NoError(t, f.registry.RecordRTT(a, 80))
	require.NoError(t, f.registry.RecordRTT(b, 95))
	require.NoError(t, f.registry.RecordRTT(c, 10))

	f.manager.AddSubjectToGame(ctx, a, "filtered")
	f.manager.AddSubjectToGame(ctx, b, "filtered")
	assert.Equal(t, 2, f.rooms.Len("filtered"), "80+95 over the bound, both keep waiting")

	// The fast arrival pairs with the head of the queue; the laggy waiter
	// stays behind.
	f.manager.AddSubjectToGame(ctx, c, "filtered")
	assert.Equal(t, state.ParticipantInGame, f.stateOf(t, a))
	assert.Equal(t, state.ParticipantInGame, f.stateOf(t, c))
	assert.Equal(t, state.ParticipantInWaitroom, f.stateOf(t, b))
	assert.Equal(t, 1, f.rooms.Len("filtered"))
}

func TestProbeRejectionClearsGroupBinding(t *testing.T) {
	f := newFixture(t)
	f.loadScenes(t, `
scenes:
  - id: gated
    group_size: 2
    matchmaker:
      name: fifo
    max_p2p_rtt_ms: 100
`)
	f.prober.result = probe.Result{Outcome: probe.OutcomeFailed, Reason: "ice failed"}
	ctx := context.Background()
	a := f.register(t, "c1")
	b := f.register(t, "c2")

	f.manager.AddSubjectToGame(ctx, a, "gated")
	f.manager.AddSubjectToGame(ctx, b, "gated")

	for _, s := range []model.SubjectID{a, b} {
		p, ok := f.registry.Get(s)
		require.True(t, ok)
		assert.Empty(t, p.GroupID, "requeued participant holds no session binding")
	}
}

func TestProbeRTTAboveThresholdRejects(t *testing.T) {
	f := newFixture(t)
	f.loadScenes(t, `
scenes:
  - id: gated
    group_size: 2
    matchmaker:
      name: fifo
    max_p2p_rtt_ms: 100
`)
	f.prober.result = probe.Result{
		Outcome:  probe.OutcomeOK,
		MaxRTTMs: 250,
		RTTs:     map[string]float64{"0-1": 250},
	}
	ctx := context.Background()
	a := f.register(t, "c1")
	b := f.register(t, "c2")

	f.manager.AddSubjectToGame(ctx, a, "gated")
	f.manager.AddSubjectToGame(ctx, b, "gated")

	assert.Equal(t, state.ParticipantInWaitroom, f.stateOf(t, a))
	assert.False(t, f.hub.has(b, event.GameStart))
}

func TestProbePassStoresMeasurements(t *testing.T) {
	f := newFixture(t)
	f.loadScenes(t, `
scenes:
  - id: gated
    group_size: 2
    matchmaker:
      name: fifo
    max_p2p_rtt_ms: 100
`)
	f.prober.result = probe.Result{
		Outcome:  probe.OutcomeOK,
		MaxRTTMs: 40,
		RTTs:     map[string]float64{"0-1": 40},
	}
	ctx := context.Background()
	a := f.register(t, "c1")
	b := f.register(t, "c2")

	f.manager.AddSubjectToGame(ctx, a, "gated")
	f.manager.AddSubjectToGame(ctx, b, "gated")

	sess := f.sessionOf(t, a)
	assert.Equal(t, state.SessionPlaying, sess.State)
	assert.InDelta(t, 40.0, sess.ProbeRTTs["0-1"], 1e-9)
}

func TestEndSessionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "c1")
	b := f.register(t, "c2")
	f.manager.AddSubjectToGame(ctx, a, "maze")
	f.manager.AddSubjectToGame(ctx, b, "maze")
	sess := f.sessionOf(t, a)

	require.NoError(t, f.manager.EndSession(ctx, sess.ID, state.ReasonNormal, ""))
	require.NoError(t, f.manager.EndSession(ctx, sess.ID, state.ReasonPartnerDisconnected, ""))

	assert.Equal(t, state.SessionEnded, sess.State)
	assert.Equal(t, state.ReasonNormal, sess.TerminationReason, "first caller wins")
	assert.Equal(t, []state.TerminationReason{state.ReasonPartnerDisconnected}, sess.LateReasons)
	assert.Equal(t, 1, f.dispatcher.count(event.TopicSessionEnded), "ended fires once")

	assert.Equal(t, state.ParticipantGameEnded, f.stateOf(t, a))
	assert.Equal(t, state.ParticipantGameEnded, f.stateOf(t, b))
	assert.Equal(t, 0, f.hub.roomSize(roomName(sess.ID)), "room dropped")
}

func TestEndSessionRecordsGroupHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "c1")
	b := f.register(t, "c2")
	f.manager.AddSubjectToGame(ctx, a, "maze")
	f.manager.AddSubjectToGame(ctx, b, "maze")
	sess := f.sessionOf(t, a)

	require.NoError(t, f.manager.EndSession(ctx, sess.ID, state.ReasonNormal, ""))

	h := f.registry.HistoryOf(a)
	require.NotNil(t, h)
	assert.True(t, h.WasPartneredWith(b))
}

func TestDisconnectInWaitroomReleasesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "c1")
	f.manager.AddSubjectToGame(ctx, a, "maze")
	require.Equal(t, 1, f.rooms.Len("maze"))

	f.manager.OnDisconnect(a, "c1", false)

	assert.Equal(t, 0, f.rooms.Len("maze"))
	assert.Equal(t, state.ParticipantIdle, f.stateOf(t, a))
}

func TestDisconnectInGameEndsSessionForPartner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "c1")
	b := f.register(t, "c2")
	f.manager.AddSubjectToGame(ctx, a, "maze")
	f.manager.AddSubjectToGame(ctx, b, "maze")
	sess := f.sessionOf(t, a)

	f.manager.OnDisconnect(a, "c1", false)

	assert.Equal(t, state.SessionEnded, sess.State)
	assert.Equal(t, state.ReasonPartnerDisconnected, sess.TerminationReason)
}

func TestStaleDisconnectIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "c1")
	b := f.register(t, "c2")
	f.manager.AddSubjectToGame(ctx, a, "maze")
	f.manager.AddSubjectToGame(ctx, b, "maze")
	sess := f.sessionOf(t, a)

	f.manager.OnDisconnect(a, "old-conn", true)

	assert.Equal(t, state.SessionPlaying, sess.State)
	assert.Equal(t, state.ParticipantInGame, f.stateOf(t, a))
}

func TestLoadingGraceSwallowsDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "c1")
	b := f.register(t, "c2")
	f.manager.AddSubjectToGame(ctx, a, "maze")
	f.manager.AddSubjectToGame(ctx, b, "maze")
	sess := f.sessionOf(t, a)

	f.grace.Start(a)
	f.manager.OnDisconnect(a, "c1", false)

	assert.Equal(t, state.SessionPlaying, sess.State, "grace keeps the session alive")
	assert.Equal(t, state.ParticipantInGame, f.stateOf(t, a))
	p, _ := f.registry.Get(a)
	assert.False(t, p.IsConnected)
}

func TestLeaveGameFromWaitroom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "c1")
	f.manager.AddSubjectToGame(ctx, a, "maze")

	f.manager.LeaveGame(ctx, a, "")

	assert.Equal(t, state.ParticipantIdle, f.stateOf(t, a))
	assert.Equal(t, 0, f.rooms.Len("maze"))
	assert.True(t, f.hub.has(a, event.WaitroomLeft))
}

func TestLeaveGameEndsRunningSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "c1")
	b := f.register(t, "c2")
	f.manager.AddSubjectToGame(ctx, a, "maze")
	f.manager.AddSubjectToGame(ctx, b, "maze")
	sess := f.sessionOf(t, a)

	f.manager.LeaveGame(ctx, a, sess.ID)

	assert.Equal(t, state.SessionEnded, sess.State)
	assert.Equal(t, state.ReasonNormal, sess.TerminationReason)
}

func TestAdvanceSceneAfterGameEnded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "c1")
	b := f.register(t, "c2")
	f.manager.AddSubjectToGame(ctx, a, "maze")
	f.manager.AddSubjectToGame(ctx, b, "maze")
	sess := f.sessionOf(t, a)
	require.NoError(t, f.manager.EndSession(ctx, sess.ID, state.ReasonNormal, ""))

	f.manager.AdvanceScene(ctx, a, "maze-2")

	assert.Equal(t, state.ParticipantIdle, f.stateOf(t, a))
	p, _ := f.registry.Get(a)
	assert.Equal(t, model.SceneID("maze-2"), p.SceneID)
	assert.Empty(t, p.GroupID)
}

func TestWaitroomTimeoutSweep(t *testing.T) {
	f := newFixture(t)
	f.loadScenes(t, `
scenes:
  - id: impatient
    group_size: 2
    matchmaker:
      name: fifo
    waitroom_timeout_ms: 1
`)
	ctx := context.Background()
	a := f.register(t, "c1")
	f.manager.AddSubjectToGame(ctx, a, "impatient")
	require.Equal(t, 1, f.rooms.Len("impatient"))

	time.Sleep(5 * time.Millisecond)
	f.manager.sweep(ctx)

	assert.Equal(t, 0, f.rooms.Len("impatient"))
	assert.Equal(t, state.ParticipantIdle, f.stateOf(t, a))
	assert.True(t, f.hub.has(a, event.WaitroomLeft))
}

func TestRetentionSweepEvictsDisconnected(t *testing.T) {
	f := newFixture(t)
	f.manager.cfg.Timeouts.ParticipantRetentionMs = 1
	ctx := context.Background()
	a := f.register(t, "c1")
	require.NoError(t, f.registry.MarkDisconnected(a))

	time.Sleep(5 * time.Millisecond)
	f.manager.sweep(ctx)

	_, ok := f.registry.Get(a)
	assert.False(t, ok, "record evicted after retention")
}

func TestRelayFacingViews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "c1")
	b := f.register(t, "c2")
	f.manager.AddSubjectToGame(ctx, a, "maze")
	f.manager.AddSubjectToGame(ctx, b, "maze")
	sess := f.sessionOf(t, a)

	assert.True(t, f.manager.Membership(sess.ID, a))
	assert.False(t, f.manager.Membership(sess.ID, "stranger"))
	assert.Equal(t, []model.SubjectID{b}, f.manager.Peers(sess.ID, a))

	n, err := f.manager.BumpEpisode(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, f.manager.RecordHealth(sess.ID, a, model.P2PHealth{
		ConnectionType: "direct", RTTMs: 30, Status: "good",
	}))
	v, ok := f.manager.View(sess.ID)
	require.True(t, ok)
	assert.Equal(t, 1, v.CurrentEpisode)
	assert.Equal(t, "direct", v.Health[a].ConnectionType)

	require.NoError(t, f.manager.EndSession(ctx, sess.ID, state.ReasonNormal, ""))
	assert.False(t, f.manager.Membership(sess.ID, a), "terminal sessions relay nothing")
}
