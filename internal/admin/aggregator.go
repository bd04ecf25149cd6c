package admin

import (
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/interactionlab/tandem/config"
	"github.com/interactionlab/tandem/internal/domain/event"
	"github.com/interactionlab/tandem/internal/domain/model"
	"github.com/interactionlab/tandem/internal/domain/state"
	"github.com/interactionlab/tandem/internal/transport"
)

// Room is where admin subscribers live; StateUpdate fan-out targets it.
const Room = "admin"

const (
	sessionCacheSize = 512
	consoleCacheSize = 256
)

// HealthStatus is the derived per-participant link classification shown
// on the dashboard.
type HealthStatus string

const (
	HealthHealthy      HealthStatus = "healthy"
	HealthDegraded     HealthStatus = "degraded"
	HealthReconnecting HealthStatus = "reconnecting"
)

// SessionSnapshot is the dashboard's per-session row, assembled from bus
// events only.
type SessionSnapshot struct {
	SessionID    model.SessionID              `json:"session_id"`
	SceneID      model.SceneID                `json:"scene_id"`
	Participants []model.SubjectID            `json:"participants"`
	State        string                       `json:"state"`
	Matchmaker   string                       `json:"matchmaker,omitempty"`
	Reunion      bool                         `json:"reunion,omitempty"`
	Episode      int                          `json:"episode"`
	ProbeRTTs    map[string]float64           `json:"probe_rtts,omitempty"`
	Health       map[model.SubjectID]LinkView `json:"health,omitempty"`
	Reason       state.TerminationReason      `json:"reason,omitempty"`
	StartedAt    time.Time                    `json:"started_at,omitempty"`
	EndedAt      time.Time                    `json:"ended_at,omitempty"`
	DurationMs   int64                        `json:"duration_ms,omitempty"`
}

// LinkView is one participant's derived peer-link state.
type LinkView struct {
	ConnectionType string       `json:"connection_type"`
	RTTMs          float64      `json:"rtt_ms"`
	Status         HealthStatus `json:"status"`
}

// Summary is the rolling aggregate for the dashboard header.
// AvgSessionDuration is in milliseconds, averaged over sessions that played.
type Summary struct {
	ActiveSessions     int                             `json:"active_sessions"`
	EndedSessions      int                             `json:"ended_sessions"`
	TotalStarted       int                             `json:"total_started"`
	TotalCompleted     int                             `json:"total_completed"`
	CompletionRate     float64                         `json:"completion_rate"`
	AvgSessionDuration float64                         `json:"avg_session_duration"`
	Terminations       map[state.TerminationReason]int `json:"terminations"`
	Waitrooms          map[model.SceneID]int           `json:"waitrooms"`
	ProbeFailures      int                             `json:"probe_failures"`
	GraceSwallowed     int                             `json:"grace_swallowed_disconnects"`
	Hub                transport.Stats                 `json:"hub"`
}

type sessionEntry struct {
	snap    SessionSnapshot
	limiter *rate.Limiter
}

// Aggregator folds the observer bus into the admin read model. It is a
// pure consumer: nothing here feeds back into the lifecycle.
//
// [BACKPRESSURE] StateUpdate emission is throttled per session so a chatty
// health reporter cannot flood dashboard sockets; the final snapshot of an
// ended session always goes out.
type Aggregator struct {
	logger   *slog.Logger
	hub      transport.Hubber
	stats    func() transport.Stats
	throttle time.Duration
	warnRTT  float64

	mu           sync.Mutex
	sessions     *lru.Cache[model.SessionID, *sessionEntry]
	console      *lru.Cache[model.SubjectID, *consoleRing]
	ringSize     int
	waitrooms    map[model.SceneID]int
	terminations map[state.TerminationReason]int
	active       int
	ended        int
	started      int
	completed    int
	durTotalMs   int64
	durSamples   int
	probeFails   int
	graceDrops   int
}

func New(logger *slog.Logger, cfg *config.Config, hub transport.Hubber, stats func() transport.Stats) *Aggregator {
	sessions, _ := lru.New[model.SessionID, *sessionEntry](sessionCacheSize)
	console, _ := lru.New[model.SubjectID, *consoleRing](consoleCacheSize)
	return &Aggregator{
		logger:       logger.With(slog.String("component", "admin_aggregator")),
		hub:          hub,
		stats:        stats,
		throttle:     cfg.Admin.Throttle(),
		warnRTT:      cfg.Admin.WarningRTTMs,
		sessions:     sessions,
		console:      console,
		ringSize:     cfg.Admin.ConsoleRingSize,
		waitrooms:    make(map[model.SceneID]int),
		terminations: make(map[state.TerminationReason]int),
	}
}

func (a *Aggregator) OnSessionMatched(ev event.SessionMatchedEvent) {
	a.mu.Lock()
	e := &sessionEntry{
		snap: SessionSnapshot{
			SessionID:    ev.SessionID,
			SceneID:      ev.SceneID,
			Participants: ev.Participants,
			State:        "matched",
			Matchmaker:   ev.Matchmaker,
			Reunion:      ev.Reunion,
		},
		limiter: rate.NewLimiter(rate.Every(a.throttle), 1),
	}
	a.sessions.Add(ev.SessionID, e)
	a.active++
	a.mu.Unlock()
	a.emit(ev.SessionID, false)
}

func (a *Aggregator) OnSessionStarted(ev event.SessionStartedEvent) {
	a.mu.Lock()
	a.started++
	a.mu.Unlock()

	a.update(ev.SessionID, func(s *SessionSnapshot) {
		s.State = "playing"
		s.ProbeRTTs = ev.ProbeRTTs
		s.StartedAt = ev.PlayingAt
	})
	a.emit(ev.SessionID, false)
}

func (a *Aggregator) OnSessionEnded(ev event.SessionEndedEvent) {
	a.mu.Lock()
	a.active--
	if a.active < 0 {
		a.active = 0
	}
	a.ended++
	a.terminations[ev.Reason]++
	if ev.Reason == state.ReasonNormal {
		a.completed++
	}
	if ev.DurationMs > 0 {
		a.durTotalMs += ev.DurationMs
		a.durSamples++
	}
	if ev.Reason == state.ReasonProbeFailed {
		a.probeFails++
	}
	a.mu.Unlock()

	a.update(ev.SessionID, func(s *SessionSnapshot) {
		s.State = "ended"
		s.Reason = ev.Reason
		s.EndedAt = ev.EndedAt
		s.DurationMs = ev.DurationMs
	})
	a.emit(ev.SessionID, true)
}

func (a *Aggregator) OnProbeFinished(ev event.ProbeFinishedEvent) {
	a.update(ev.SessionID, func(s *SessionSnapshot) {
		s.State = "validating"
		s.ProbeRTTs = ev.RTTs
	})
	a.emit(ev.SessionID, false)
}

func (a *Aggregator) OnWaitroomChanged(ev event.WaitroomChangedEvent) {
	a.mu.Lock()
	a.waitrooms[ev.SceneID] = ev.Size
	a.mu.Unlock()
}

func (a *Aggregator) OnHealthReported(ev event.HealthReportedEvent) {
	a.update(ev.SessionID, func(s *SessionSnapshot) {
		if s.Health == nil {
			s.Health = make(map[model.SubjectID]LinkView)
		}
		s.Health[ev.SubjectID] = LinkView{
			ConnectionType: ev.ConnectionType,
			RTTMs:          ev.RTTMs,
			Status:         a.classify(ev),
		}
	})
	a.emit(ev.SessionID, false)
}

func (a *Aggregator) OnParticipantDisconnected(ev event.ParticipantDisconnectedEvent) {
	if !ev.Grace {
		return
	}
	a.mu.Lock()
	a.graceDrops++
	a.mu.Unlock()
}

// classify folds a raw health report into the dashboard taxonomy. Server-side
// connectivity overrides the client's claim: a subject whose socket is gone
// shows reconnecting no matter what its last report said.
func (a *Aggregator) classify(ev event.HealthReportedEvent) HealthStatus {
	if !a.hub.IsConnected(ev.SubjectID) {
		return HealthReconnecting
	}
	switch ev.Status {
	case "reconnecting", "disconnected":
		return HealthReconnecting
	}
	if ev.RTTMs > a.warnRTT {
		return HealthDegraded
	}
	return HealthHealthy
}

func (a *Aggregator) update(id model.SessionID, fn func(*SessionSnapshot)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.sessions.Get(id); ok {
		fn(&e.snap)
	}
}

// emit pushes the session's snapshot to the admin room, subject to the
// per-session throttle. final bypasses the throttle so the terminal state
// is never lost to rate limiting.
func (a *Aggregator) emit(id model.SessionID, final bool) {
	a.mu.Lock()
	e, ok := a.sessions.Get(id)
	if !ok {
		a.mu.Unlock()
		return
	}
	if !final && !e.limiter.Allow() {
		a.mu.Unlock()
		return
	}
	snap := e.snap
	a.mu.Unlock()

	a.hub.EmitToRoom(Room, event.NewBroadcast(event.StateUpdate, snap))
}

// Sessions snapshots every tracked session, newest activity last.
func (a *Aggregator) Sessions() []SessionSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SessionSnapshot, 0, a.sessions.Len())
	for _, id := range a.sessions.Keys() {
		if e, ok := a.sessions.Peek(id); ok {
			out = append(out, e.snap)
		}
	}
	return out
}

// Session returns one tracked session's snapshot.
func (a *Aggregator) Session(id model.SessionID) (SessionSnapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.sessions.Peek(id); ok {
		return e.snap, true
	}
	return SessionSnapshot{}, false
}

// Rollup assembles the dashboard header figures.
func (a *Aggregator) Rollup() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Summary{
		ActiveSessions: a.active,
		EndedSessions:  a.ended,
		TotalStarted:   a.started,
		TotalCompleted: a.completed,
		Terminations:   make(map[state.TerminationReason]int, len(a.terminations)),
		Waitrooms:      make(map[model.SceneID]int, len(a.waitrooms)),
		ProbeFailures:  a.probeFails,
		GraceSwallowed: a.graceDrops,
	}
	if a.started > 0 {
		s.CompletionRate = float64(a.completed) / float64(a.started)
	}
	if a.durSamples > 0 {
		s.AvgSessionDuration = float64(a.durTotalMs) / float64(a.durSamples)
	}
	for k, v := range a.terminations {
		s.Terminations[k] = v
	}
	for k, v := range a.waitrooms {
		s.Waitrooms[k] = v
	}
	if a.stats != nil {
		s.Hub = a.stats()
	}
	return s
}
