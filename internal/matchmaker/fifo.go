package matchmaker

import "github.com/interactionlab/tandem/internal/domain/model"

// FIFO takes the first groupSize-1 waiting candidates in queue order and
// appends the arrival. Slot order is therefore queue order, arrival last.
type FIFO struct{}

var _ Matchmaker = FIFO{}

func (FIFO) Name() string { return "fifo" }

func (FIFO) FindMatch(arriving model.MatchCandidate, waiting []model.MatchCandidate, groupSize int) ([]model.MatchCandidate, bool) {
	if len(waiting) < groupSize-1 {
		return nil, false
	}
	group := make([]model.MatchCandidate, 0, groupSize)
	group = append(group, waiting[:groupSize-1]...)
	group = append(group, arriving)
	return group, true
}

// LatencyFIFO filters the waiting list to candidates whose server RTT
// summed with the arrival's stays under the bound, then applies FIFO over
// the survivors. Missing RTT on either side counts as compatible.
type LatencyFIFO struct {
	MaxServerRTTSumMs float64
}

var _ Matchmaker = LatencyFIFO{}

func (LatencyFIFO) Name() string { return "latency_fifo" }

func (m LatencyFIFO) FindMatch(arriving model.MatchCandidate, waiting []model.MatchCandidate, groupSize int) ([]model.MatchCandidate, bool) {
	var compatible []model.MatchCandidate
	for _, w := range waiting {
		if arriving.RTTKnown && w.RTTKnown && arriving.RTTMs+w.RTTMs > m.MaxServerRTTSumMs {
			continue
		}
		compatible = append(compatible, w)
	}
	return FIFO{}.FindMatch(arriving, compatible, groupSize)
}
