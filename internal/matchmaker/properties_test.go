package matchmaker

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/interactionlab/tandem/internal/domain/model"
)

// genWaiting builds a waiting list from generated RTT values; index i gets
// the stable subject id w<i>. A negative RTT means "no measurement yet".
func genWaiting() gopter.Gen {
	return gen.SliceOf(gen.IntRange(-1, 500)).Map(func(rtts []int) []model.MatchCandidate {
		waiting := make([]model.MatchCandidate, len(rtts))
		for i, rtt := range rtts {
			waiting[i] = model.MatchCandidate{
				SubjectID: model.SubjectID(fmt.Sprintf("w%d", i)),
			}
			if rtt >= 0 {
				waiting[i].RTTMs = float64(rtt)
				waiting[i].RTTKnown = true
			}
		}
		return waiting
	})
}

func sameGroup(a, b []model.MatchCandidate) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].SubjectID != b[i].SubjectID {
			return false
		}
	}
	return true
}

func checkMatchmaker(t *testing.T, build func() Matchmaker) {
	t.Helper()
	properties := gopter.NewProperties(nil)

	properties.Property("deterministic for a given snapshot", prop.ForAll(
		func(waiting []model.MatchCandidate, rtt int, groupSize int) bool {
			arriving := model.MatchCandidate{SubjectID: "arrival"}
			if rtt >= 0 {
				arriving.RTTMs = float64(rtt)
				arriving.RTTKnown = true
			}
			m := build()
			g1, ok1 := m.FindMatch(arriving, waiting, groupSize)
			g2, ok2 := m.FindMatch(arriving, waiting, groupSize)
			return ok1 == ok2 && sameGroup(g1, g2)
		},
		genWaiting(), gen.IntRange(-1, 500), gen.IntRange(2, 4),
	))

	properties.Property("a match has exactly groupSize members incl. arrival", prop.ForAll(
		func(waiting []model.MatchCandidate, groupSize int) bool {
			arriving := model.MatchCandidate{SubjectID: "arrival"}
			group, ok := build().FindMatch(arriving, waiting, groupSize)
			if !ok {
				return group == nil
			}
			if len(group) != groupSize {
				return false
			}
			found := false
			for _, c := range group {
				if c.SubjectID == "arrival" {
					found = true
				}
			}
			return found
		},
		genWaiting(), gen.IntRange(2, 4),
	))

	properties.Property("input snapshot is never mutated", prop.ForAll(
		func(waiting []model.MatchCandidate, groupSize int) bool {
			before := append([]model.MatchCandidate(nil), waiting...)
			arriving := model.MatchCandidate{SubjectID: "arrival"}
			_, _ = build().FindMatch(arriving, waiting, groupSize)
			return sameGroup(before, waiting)
		},
		genWaiting(), gen.IntRange(2, 4),
	))

	properties.Property("selection preserves queue order", prop.ForAll(
		func(waiting []model.MatchCandidate, groupSize int) bool {
			arriving := model.MatchCandidate{SubjectID: "arrival"}
			group, ok := build().FindMatch(arriving, waiting, groupSize)
			if !ok {
				return true
			}
			// Positions of selected waiters must be strictly increasing.
			pos := -1
			for _, c := range group[:len(group)-1] {
				found := -1
				for i, w := range waiting {
					if w.SubjectID == c.SubjectID {
						found = i
						break
					}
				}
				if found <= pos {
					return false
				}
				pos = found
			}
			return group[len(group)-1].SubjectID == "arrival"
		},
		genWaiting(), gen.IntRange(2, 4),
	))

	properties.TestingRun(t)
}

func TestFIFOProperties(t *testing.T) {
	checkMatchmaker(t, func() Matchmaker { return FIFO{} })
}

func TestLatencyFIFOProperties(t *testing.T) {
	checkMatchmaker(t, func() Matchmaker { return LatencyFIFO{MaxServerRTTSumMs: 200} })
}

func TestGroupReunionFallbackProperties(t *testing.T) {
	checkMatchmaker(t, func() Matchmaker { return GroupReunion{FallbackToFIFO: true} })
}
