package matchmaker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interactionlab/tandem/internal/domain/model"
)

func cand(id string) model.MatchCandidate {
	return model.MatchCandidate{SubjectID: model.SubjectID(id)}
}

func candRTT(id string, rtt float64) model.MatchCandidate {
	return model.MatchCandidate{SubjectID: model.SubjectID(id), RTTMs: rtt, RTTKnown: true}
}

func ids(group []model.MatchCandidate) []model.SubjectID {
	out := make([]model.SubjectID, len(group))
	for i, c := range group {
		out[i] = c.SubjectID
	}
	return out
}

func TestFIFOPairsInArrivalOrder(t *testing.T) {
	m := FIFO{}

	_, ok := m.FindMatch(cand("a"), nil, 2)
	assert.False(t, ok, "empty waitroom means wait")

	group, ok := m.FindMatch(cand("b"), []model.MatchCandidate{cand("a")}, 2)
	require.True(t, ok)
	assert.Equal(t, []model.SubjectID{"a", "b"}, ids(group), "waiter takes slot 0, arrival appends")
}

func TestFIFOFairness(t *testing.T) {
	// The k-th arriving participant lands in the k-th matched group.
	m := FIFO{}
	var waiting []model.MatchCandidate
	var groups [][]model.SubjectID
	for i := 0; i < 10; i++ {
		arriving := cand(fmt.Sprintf("p%d", i))
		group, ok := m.FindMatch(arriving, waiting, 2)
		if !ok {
			waiting = append(waiting, arriving)
			continue
		}
		groups = append(groups, ids(group))
		waiting = waiting[1:]
	}
	require.Len(t, groups, 5)
	for k, g := range groups {
		assert.Equal(t, []model.SubjectID{
			model.SubjectID(fmt.Sprintf("p%d", 2*k)),
			model.SubjectID(fmt.Sprintf("p%d", 2*k+1)),
		}, g)
	}
}

func TestFIFOGroupOfThree(t *testing.T) {
	m := FIFO{}
	waiting := []model.MatchCandidate{cand("a"), cand("b"), cand("c")}
	group, ok := m.FindMatch(cand("d"), waiting, 3)
	require.True(t, ok)
	assert.Equal(t, []model.SubjectID{"a", "b", "d"}, ids(group))
}

func TestLatencyFIFOFiltersBySum(t *testing.T) {
	m := LatencyFIFO{MaxServerRTTSumMs: 100}
	waiting := []model.MatchCandidate{
		candRTT("slow", 90),
		candRTT("fast", 30),
	}

	group, ok := m.FindMatch(candRTT("x", 40), waiting, 2)
	require.True(t, ok)
	assert.Equal(t, []model.SubjectID{"fast", "x"}, ids(group),
		"slow+x exceeds the bound, fast+x fits")

	_, ok = m.FindMatch(candRTT("y", 80), waiting, 2)
	assert.False(t, ok, "both sums exceed the bound")
}

func TestLatencyFIFOTreatsUnknownRTTAsCompatible(t *testing.T) {
	m := LatencyFIFO{MaxServerRTTSumMs: 50}

	group, ok := m.FindMatch(candRTT("x", 45), []model.MatchCandidate{cand("nodata")}, 2)
	require.True(t, ok)
	assert.Equal(t, []model.SubjectID{"nodata", "x"}, ids(group))

	group, ok = m.FindMatch(cand("nodata2"), []model.MatchCandidate{candRTT("slow", 400)}, 2)
	require.True(t, ok, "unknown arrival never blocks on latency")
	assert.Equal(t, []model.SubjectID{"slow", "nodata2"}, ids(group))
}

func historyWith(partners ...string) *model.GroupHistory {
	set := make(map[model.SubjectID]struct{}, len(partners))
	for _, p := range partners {
		set[model.SubjectID(p)] = struct{}{}
	}
	return &model.GroupHistory{PreviousPartners: set}
}

func TestReunionPrefersPreviousPartnerOverQueueHead(t *testing.T) {
	m := GroupReunion{}

	arriving := cand("b")
	arriving.History = historyWith("a")

	// Unrelated c queued ahead of a; reunion still picks a.
	waiting := []model.MatchCandidate{cand("c"), cand("a")}
	group, ok := m.FindMatch(arriving, waiting, 2)
	require.True(t, ok)
	assert.Equal(t, []model.SubjectID{"a", "b"}, ids(group))
}

func TestReunionWithoutPartnerWaitsOrFallsBack(t *testing.T) {
	arriving := cand("b")
	arriving.History = historyWith("a")
	waiting := []model.MatchCandidate{cand("c")}

	_, ok := GroupReunion{}.FindMatch(arriving, waiting, 2)
	assert.False(t, ok, "partner absent, no fallback: wait")

	group, ok := GroupReunion{FallbackToFIFO: true}.FindMatch(arriving, waiting, 2)
	require.True(t, ok)
	assert.Equal(t, []model.SubjectID{"c", "b"}, ids(group))
}

func TestReunionHistorylessArrival(t *testing.T) {
	waiting := []model.MatchCandidate{cand("c")}

	_, ok := GroupReunion{}.FindMatch(cand("fresh"), waiting, 2)
	assert.False(t, ok)

	group, ok := GroupReunion{FallbackToFIFO: true}.FindMatch(cand("fresh"), waiting, 2)
	require.True(t, ok)
	assert.Equal(t, []model.SubjectID{"c", "fresh"}, ids(group))
}

func TestNewBuildsFromSceneParams(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		want    string
		wantErr bool
	}{
		{"fifo", nil, "fifo", false},
		{"latency_fifo", map[string]any{"max_server_rtt_sum_ms": 120}, "latency_fifo", false},
		{"latency_fifo", map[string]any{"max_server_rtt_sum_ms": 80.5}, "latency_fifo", false},
		{"latency_fifo", nil, "", true},
		{"latency_fifo", map[string]any{"max_server_rtt_sum_ms": -1}, "", true},
		{"group_reunion", map[string]any{"fallback_to_fifo": true}, "group_reunion", false},
		{"group_reunion", nil, "group_reunion", false},
		{"roulette", nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.name, tt.params)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Name())
		})
	}
}
