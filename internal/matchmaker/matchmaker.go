package matchmaker

import (
	"fmt"

	"github.com/interactionlab/tandem/internal/domain/model"
)

// Matchmaker decides whether an arriving candidate completes a group.
//
// FindMatch must be deterministic and side-effect free: it sees one
// snapshot of the waiting list and either returns a slot-ordered group of
// exactly groupSize candidates including the arriving one, or (nil, false)
// meaning the arrival should wait. The caller performs every mutation.
// A candidate without RTT data is always treated as compatible.
type Matchmaker interface {
	Name() string
	FindMatch(arriving model.MatchCandidate, waiting []model.MatchCandidate, groupSize int) ([]model.MatchCandidate, bool)
}

// New builds a matchmaker from the scene's matchmaker spec. Params are
// researcher-authored YAML and parsed defensively.
func New(name string, params map[string]any) (Matchmaker, error) {
	switch name {
	case "fifo":
		return FIFO{}, nil
	case "latency_fifo":
		max, ok := floatParam(params, "max_server_rtt_sum_ms")
		if !ok {
			return nil, fmt.Errorf("latency_fifo: missing max_server_rtt_sum_ms param")
		}
		if max <= 0 {
			return nil, fmt.Errorf("latency_fifo: max_server_rtt_sum_ms must be positive")
		}
		return LatencyFIFO{MaxServerRTTSumMs: max}, nil
	case "group_reunion":
		fallback, _ := boolParam(params, "fallback_to_fifo")
		return GroupReunion{FallbackToFIFO: fallback}, nil
	default:
		return nil, fmt.Errorf("unknown matchmaker %q", name)
	}
}

func floatParam(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func boolParam(params map[string]any, key string) (bool, bool) {
	v, ok := params[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
