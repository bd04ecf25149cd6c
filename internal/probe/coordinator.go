package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/interactionlab/tandem/internal/domain/event"
	"github.com/interactionlab/tandem/internal/domain/model"
	"github.com/interactionlab/tandem/internal/transport"
)

// defaultRounds is how many DataChannel ping-pong rounds each peer runs
// before reporting its median.
const defaultRounds = 5

// Coordinator drives the pre-session connectivity ritual: for every pair
// in a proposed group it assigns offerer/answerer roles, relays opaque
// WebRTC signaling, waits for both sides to confirm the DataChannel, then
// collects median RTT reports. It is a pure predicate for the lifecycle
// manager; it never mutates participant or session state.
type Coordinator struct {
	logger  *slog.Logger
	hub     transport.Hubber
	timeout time.Duration
	rounds  int

	mu     sync.Mutex
	probes map[model.ProbeID]*pairProbe
}

func NewCoordinator(logger *slog.Logger, hub transport.Hubber, timeout time.Duration) *Coordinator {
	return &Coordinator{
		logger:  logger.With(slog.String("component", "probe")),
		hub:     hub,
		timeout: timeout,
		rounds:  defaultRounds,
		probes:  make(map[model.ProbeID]*pairProbe),
	}
}

// Probe runs all C(n,2) pair probes concurrently and aggregates. A single
// pair failure fails the whole group; the first failure's reason wins and
// the remaining pairs are cancelled.
func (c *Coordinator) Probe(ctx context.Context, group []model.SubjectID) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	deadline, _ := ctx.Deadline()

	type keyed struct {
		key string
		p   *pairProbe
	}
	var pairs []keyed
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			pairs = append(pairs, keyed{
				key: fmt.Sprintf("%d-%d", i, j),
				p:   newPairProbe(group[i], group[j], deadline),
			})
		}
	}

	c.mu.Lock()
	for _, pr := range pairs {
		c.probes[pr.p.id] = pr.p
	}
	c.mu.Unlock()
	defer func() {
		// Late inbound signals after this point miss the lookup and die.
		c.mu.Lock()
		for _, pr := range pairs {
			delete(c.probes, pr.p.id)
		}
		c.mu.Unlock()
	}()

	var (
		resMu sync.Mutex
		rtts  = make(map[string]float64, len(pairs))
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, pr := range pairs {
		g.Go(func() error {
			rtt, err := c.runPair(gctx, pr.p)
			if err != nil {
				return err
			}
			resMu.Lock()
			rtts[pr.key] = rtt
			resMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return Result{Outcome: OutcomeTimeout, Reason: "probe deadline exceeded"}
		}
		return Result{Outcome: OutcomeFailed, Reason: err.Error()}
	}

	var max float64
	for _, rtt := range rtts {
		if rtt > max {
			max = rtt
		}
	}
	return Result{Outcome: OutcomeOK, RTTs: rtts, MaxRTTMs: max}
}

func (c *Coordinator) runPair(ctx context.Context, p *pairProbe) (float64, error) {
	c.logger.Debug("probe pair starting",
		slog.String("probe_id", string(p.id)),
		slog.String("offerer", string(p.offerer)),
		slog.String("answerer", string(p.answerer)))

	if !c.emitStart(p.offerer, p, "offerer", p.answerer) ||
		!c.emitStart(p.answerer, p, "answerer", p.offerer) {
		return 0, fmt.Errorf("probe %s: peer unreachable", p.id)
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-p.done:
		if !res.ok {
			return 0, fmt.Errorf("probe %s: %s", p.id, res.reason)
		}
		return res.rttMs, nil
	}
}

func (c *Coordinator) emitStart(to model.SubjectID, p *pairProbe, role string, peer model.SubjectID) bool {
	return c.hub.EmitToSubject(to, event.NewOutbound(to, event.ProbeStart, event.ProbeStartPayload{
		ProbeID: p.id,
		Role:    role,
		Peer:    peer,
	}))
}

func (c *Coordinator) lookup(id model.ProbeID) (*pairProbe, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.probes[id]
	return p, ok
}

// HandleSignal relays one opaque SDP/ICE blob to the sender's pair peer.
func (c *Coordinator) HandleSignal(from model.SubjectID, id model.ProbeID, payload json.RawMessage) {
	p, ok := c.lookup(id)
	if !ok {
		c.logger.Debug("discarding signal for unknown probe",
			slog.String("probe_id", string(id)))
		return
	}
	peer, ok := p.peerOf(from)
	if !ok {
		c.logger.Warn("probe signal from non-member",
			slog.String("probe_id", string(id)),
			slog.String("subject_id", string(from)))
		return
	}

	p.mu.Lock()
	if p.phase == phaseOffering {
		p.phase = phaseIce
	}
	p.mu.Unlock()

	c.hub.EmitToSubject(peer, event.NewOutbound(peer, event.ProbeSignal, event.ProbeSignalPayload{
		ProbeID: id,
		From:    from,
		Payload: payload,
	}))
}

// HandleConnected records one peer's DataChannel confirmation. When both
// peers confirm, the pair moves to measuring and each is asked to run its
// ping rounds.
func (c *Coordinator) HandleConnected(from model.SubjectID, id model.ProbeID) {
	p, ok := c.lookup(id)
	if !ok {
		return
	}
	if _, member := p.peerOf(from); !member {
		return
	}

	p.mu.Lock()
	p.connected[from] = true
	both := p.connected[p.offerer] && p.connected[p.answerer]
	if both && p.phase != phaseMeasuring {
		p.phase = phaseMeasuring
	} else {
		both = false
	}
	p.mu.Unlock()

	if !both {
		return
	}
	for _, subject := range []model.SubjectID{p.offerer, p.answerer} {
		c.hub.EmitToSubject(subject, event.NewOutbound(subject, event.ProbePingRequest,
			event.ProbePingRequestPayload{ProbeID: id, Rounds: c.rounds}))
	}
}

// HandleRTTReport records one peer's measured median. Once both peers have
// reported, the pair finishes with the worse of the two figures.
func (c *Coordinator) HandleRTTReport(from model.SubjectID, id model.ProbeID, rttMs float64) {
	p, ok := c.lookup(id)
	if !ok {
		return
	}
	if _, member := p.peerOf(from); !member {
		return
	}

	p.mu.Lock()
	if p.phase != phaseMeasuring {
		p.mu.Unlock()
		return
	}
	p.rtts[from] = rttMs
	offRTT, offOK := p.rtts[p.offerer]
	ansRTT, ansOK := p.rtts[p.answerer]
	finished := offOK && ansOK
	if finished {
		p.phase = phaseDone
	}
	p.mu.Unlock()

	if !finished {
		return
	}
	rtt := offRTT
	if ansRTT > rtt {
		rtt = ansRTT
	}
	p.finish(pairResult{rttMs: rtt, ok: true})
}

// HandleFailed fails the pair on a peer's explicit report.
func (c *Coordinator) HandleFailed(from model.SubjectID, id model.ProbeID, reason string) {
	p, ok := c.lookup(id)
	if !ok {
		return
	}
	if _, member := p.peerOf(from); !member {
		return
	}

	p.mu.Lock()
	p.phase = phaseFailed
	p.mu.Unlock()

	if reason == "" {
		reason = "peer reported failure"
	}
	p.finish(pairResult{reason: reason})
}

// Pending reports how many pair probes are currently live.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.probes)
}
