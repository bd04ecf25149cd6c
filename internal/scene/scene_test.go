package scene

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interactionlab/tandem/internal/domain/model"
	"github.com/interactionlab/tandem/internal/domain/state"
)

const scenesBody = `
scenes:
  - id: s1
    group_size: 2
    matchmaker:
      name: fifo
    max_p2p_rtt_ms: 80
    messages:
      partner_disconnected: "Your partner lost the connection."
      sustained_latency: "The connection was too slow to continue."
  - id: s2
    group_size: 2
    matchmaker:
      name: group_reunion
      params:
        fallback_to_fifo: true
    waitroom_timeout_ms: 30000
    next_scene_id: s3
`

func writeScenes(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestStorePermissiveDefaults(t *testing.T) {
	st := NewStore(testLogger())

	sc, ok := st.Get(model.SceneID("anything"))
	require.True(t, ok)
	assert.Equal(t, 2, sc.GroupSize)
	assert.Equal(t, "fifo", sc.Matchmaker.Name)
	assert.Nil(t, sc.MaxP2PRTTMs)
}

func TestStoreLoad(t *testing.T) {
	st := NewStore(testLogger())
	require.NoError(t, st.Load(writeScenes(t, scenesBody)))
	assert.Equal(t, 2, st.Len())

	s1, ok := st.Get("s1")
	require.True(t, ok)
	require.NotNil(t, s1.MaxP2PRTTMs)
	assert.Equal(t, 80.0, *s1.MaxP2PRTTMs)
	assert.Equal(t, "Your partner lost the connection.",
		s1.MessageFor(state.ReasonPartnerDisconnected))
	assert.Equal(t, "", s1.MessageFor(state.ReasonProbeFailed))

	s2, ok := st.Get("s2")
	require.True(t, ok)
	assert.Equal(t, "group_reunion", s2.Matchmaker.Name)
	assert.Equal(t, true, s2.Matchmaker.Params["fallback_to_fifo"])
	assert.Equal(t, 30000, s2.WaitroomTimeoutMs)
	assert.Equal(t, model.SceneID("s3"), s2.NextSceneID)

	// loading a file makes the store strict
	_, ok = st.Get("unknown")
	assert.False(t, ok)
}

func TestStoreLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"group size one", "scenes:\n  - id: bad\n    group_size: 1\n    matchmaker:\n      name: fifo\n"},
		{"missing matchmaker", "scenes:\n  - id: bad\n    group_size: 2\n"},
		{"duplicate id", "scenes:\n  - id: dup\n    group_size: 2\n    matchmaker:\n      name: fifo\n  - id: dup\n    group_size: 2\n    matchmaker:\n      name: fifo\n"},
		{"negative waitroom timeout", "scenes:\n  - id: bad\n    group_size: 2\n    matchmaker:\n      name: fifo\n    waitroom_timeout_ms: -5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewStore(testLogger())
			assert.Error(t, st.Load(writeScenes(t, tt.body)))
		})
	}
}

func TestStoreKeepsPreviousTableOnBadReload(t *testing.T) {
	path := writeScenes(t, scenesBody)
	st := NewStore(testLogger())
	require.NoError(t, st.Load(path))

	require.NoError(t, os.WriteFile(path, []byte("scenes: ["), 0o600))
	assert.Error(t, st.Load(path))

	_, ok := st.Get("s1")
	assert.True(t, ok, "previous table must survive a failed reload")
}

func TestWatcherReloads(t *testing.T) {
	path := writeScenes(t, scenesBody)
	st := NewStore(testLogger())
	require.NoError(t, st.Load(path))

	w, err := NewWatcher(testLogger(), st, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	updated := scenesBody + `
  - id: s3
    group_size: 3
    matchmaker:
      name: latency_fifo
      params:
        max_server_rtt_sum_ms: 150
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	require.Eventually(t, func() bool {
		return st.Len() == 3
	}, 3*time.Second, 20*time.Millisecond, "watcher should pick up the new scene")

	s3, ok := st.Get("s3")
	require.True(t, ok)
	assert.Equal(t, 3, s3.GroupSize)
}
