package registry

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interactionlab/tandem/internal/domain/model"
	"github.com/interactionlab/tandem/internal/domain/state"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterMintsAndRecovers(t *testing.T) {
	r := newTestRegistry(t)

	subject, recovered := r.RegisterOrRecover("conn-1", "")
	require.NotEmpty(t, subject)
	assert.False(t, recovered)

	p, ok := r.Get(subject)
	require.True(t, ok)
	assert.Equal(t, state.ParticipantIdle, p.State)
	assert.True(t, p.IsConnected)

	// A bogus token mints a new identity instead of erroring.
	other, recovered := r.RegisterOrRecover("conn-2", "no-such-subject")
	assert.False(t, recovered)
	assert.NotEqual(t, subject, other)

	// The real token re-binds the existing record.
	require.NoError(t, r.MarkDisconnected(subject))
	same, recovered := r.RegisterOrRecover("conn-3", string(subject))
	assert.True(t, recovered)
	assert.Equal(t, subject, same)

	p, _ = r.Get(subject)
	assert.True(t, p.IsConnected)
	assert.Equal(t, model.ConnectionID("conn-3"), p.CurrentConnection)
}

func TestDisconnectPreservesStateAndStager(t *testing.T) {
	r := newTestRegistry(t)
	subject, _ := r.RegisterOrRecover("conn-1", "")

	_, err := r.Transition(subject, state.ParticipantInWaitroom)
	require.NoError(t, err)
	require.NoError(t, r.SetScene(subject, "S1"))
	require.NoError(t, r.SetStagerState(subject, []byte(`{"page":3}`)))

	require.NoError(t, r.MarkDisconnected(subject))

	p, ok := r.Get(subject)
	require.True(t, ok)
	assert.False(t, p.IsConnected)
	assert.Equal(t, state.ParticipantInWaitroom, p.State)
	assert.Equal(t, model.SceneID("S1"), p.SceneID)
	assert.JSONEq(t, `{"page":3}`, string(p.StagerState))
}

func TestTransitionRejectsInvalidEdges(t *testing.T) {
	r := newTestRegistry(t)
	subject, _ := r.RegisterOrRecover("conn-1", "")

	from, err := r.Transition(subject, state.ParticipantInGame)
	assert.ErrorIs(t, err, state.ErrInvalidTransition)
	assert.Equal(t, state.ParticipantIdle, from)

	// The record is untouched by the rejection.
	p, _ := r.Get(subject)
	assert.Equal(t, state.ParticipantIdle, p.State)

	_, err = r.Transition("missing", state.ParticipantInWaitroom)
	assert.ErrorIs(t, err, ErrUnknownSubject)
}

func TestRecordRTTSmoothing(t *testing.T) {
	r := newTestRegistry(t)
	subject, _ := r.RegisterOrRecover("conn-1", "")

	require.NoError(t, r.RecordRTT(subject, 100))
	p, _ := r.Get(subject)
	require.True(t, p.RTTKnown)
	assert.InDelta(t, 100, p.RTTMs, 1e-9, "first sample seeds the EWMA")

	require.NoError(t, r.RecordRTT(subject, 200))
	p, _ = r.Get(subject)
	assert.InDelta(t, 0.2*200+0.8*100, p.RTTMs, 1e-9)
}

func TestRecordGroupReplacesHistory(t *testing.T) {
	r := newTestRegistry(t)
	a, _ := r.RegisterOrRecover("c1", "")
	b, _ := r.RegisterOrRecover("c2", "")
	c, _ := r.RegisterOrRecover("c3", "")

	r.RecordGroup([]model.SubjectID{a, b}, "S1", "sess-1")
	h := r.HistoryOf(a)
	require.NotNil(t, h)
	assert.True(t, h.WasPartneredWith(b))
	assert.False(t, h.WasPartneredWith(c))
	assert.Equal(t, model.SessionID("sess-1"), h.GroupID)

	// Most-recent-wins: a new group wipes the previous partner set.
	r.RecordGroup([]model.SubjectID{a, c}, "S2", "sess-2")
	h = r.HistoryOf(a)
	assert.False(t, h.WasPartneredWith(b))
	assert.True(t, h.WasPartneredWith(c))
	assert.Equal(t, model.SceneID("S2"), h.SourceSceneID)
}

func TestHardEvictRemovesHistory(t *testing.T) {
	r := newTestRegistry(t)
	a, _ := r.RegisterOrRecover("c1", "")
	b, _ := r.RegisterOrRecover("c2", "")
	r.RecordGroup([]model.SubjectID{a, b}, "S1", "sess-1")

	r.HardEvict(a)

	_, ok := r.Get(a)
	assert.False(t, ok)
	assert.Nil(t, r.HistoryOf(a))
	// The partner's record is untouched.
	assert.NotNil(t, r.HistoryOf(b))
}

func TestCandidateCarriesHistoryAndRTT(t *testing.T) {
	r := newTestRegistry(t)
	a, _ := r.RegisterOrRecover("c1", "")
	b, _ := r.RegisterOrRecover("c2", "")
	require.NoError(t, r.RecordRTT(a, 42))
	r.RecordGroup([]model.SubjectID{a, b}, "S1", "sess-1")

	cand, ok := r.Candidate(a)
	require.True(t, ok)
	assert.Equal(t, a, cand.SubjectID)
	assert.True(t, cand.RTTKnown)
	assert.InDelta(t, 42, cand.RTTMs, 1e-9)
	require.NotNil(t, cand.History)
	assert.True(t, cand.History.WasPartneredWith(b))

	cand, ok = r.Candidate(b)
	require.True(t, ok)
	assert.False(t, cand.RTTKnown, "missing RTT stays unknown, never zero")
}

func TestIterByStateAndScene(t *testing.T) {
	r := newTestRegistry(t)
	a, _ := r.RegisterOrRecover("c1", "")
	b, _ := r.RegisterOrRecover("c2", "")
	require.NoError(t, r.SetScene(a, "S1"))
	require.NoError(t, r.SetScene(b, "S2"))
	_, err := r.Transition(a, state.ParticipantInWaitroom)
	require.NoError(t, err)

	assert.Len(t, r.IterByState(state.ParticipantInWaitroom), 1)
	assert.Len(t, r.IterByState(state.ParticipantIdle), 1)
	assert.Len(t, r.IterByScene("S1"), 1)
	assert.Equal(t, 2, r.Len())
}
