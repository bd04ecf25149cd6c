package probe

import (
	"sync"
	"time"

	"github.com/interactionlab/tandem/internal/domain/model"
)

// Outcome classifies one whole-group probe run.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeTimeout Outcome = "timeout"
	OutcomeFailed  Outcome = "failed"
)

// Result is the aggregate the lifecycle manager gates on. RTTs is keyed by
// slot pair ("0-1"); MaxRTTMs is the conservative group figure: the worst
// pair, each pair itself the worse of its two peers' medians.
type Result struct {
	Outcome  Outcome
	RTTs     map[string]float64
	MaxRTTMs float64
	Reason   string
}

// phase tracks one pair probe through its ritual.
type phase string

const (
	phaseOffering  phase = "offering"
	phaseIce       phase = "ice"
	phaseMeasuring phase = "measuring"
	phaseDone      phase = "done"
	phaseFailed    phase = "failed"
)

// pairProbe is the scratch state for one (offerer, answerer) pair. Inbound
// signals route here by probe id; anything arriving after completion (or
// for an unknown id) is discarded by lookup miss.
type pairProbe struct {
	id       model.ProbeID
	offerer  model.SubjectID
	answerer model.SubjectID
	deadline time.Time

	mu        sync.Mutex
	phase     phase
	connected map[model.SubjectID]bool
	rtts      map[model.SubjectID]float64

	// done receives exactly one terminal result; buffered so a late
	// handler never blocks on a departed waiter.
	done chan pairResult
}

type pairResult struct {
	rttMs  float64
	reason string
	ok     bool
}

func newPairProbe(offerer, answerer model.SubjectID, deadline time.Time) *pairProbe {
	return &pairProbe{
		id:        model.NewProbeID(),
		offerer:   offerer,
		answerer:  answerer,
		deadline:  deadline,
		phase:     phaseOffering,
		connected: make(map[model.SubjectID]bool, 2),
		rtts:      make(map[model.SubjectID]float64, 2),
		done:      make(chan pairResult, 1),
	}
}

func (p *pairProbe) peerOf(subject model.SubjectID) (model.SubjectID, bool) {
	switch subject {
	case p.offerer:
		return p.answerer, true
	case p.answerer:
		return p.offerer, true
	default:
		return "", false
	}
}

func (p *pairProbe) finish(res pairResult) {
	select {
	case p.done <- res:
	default:
	}
}
