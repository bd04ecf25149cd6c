package transport

import (
	"log/slog"
	"time"

	"github.com/interactionlab/tandem/internal/domain/event"
)

// RTTPinger drives the application-level latency overlay: every interval
// it emits a low-priority ping carrying the server clock to each bound
// connection. Clients echo the timestamp back; the inbound handler turns
// the echo into an RTT sample. This layer never influences disconnect
// detection, which belongs to the transport heartbeat alone.
type RTTPinger struct {
	logger *slog.Logger
	hub    *Hub

	stopSyn chan struct{}
	stopAck chan struct{}
}

func NewRTTPinger(logger *slog.Logger, hub *Hub) *RTTPinger {
	return &RTTPinger{
		logger:  logger.With(slog.String("component", "rtt_pinger")),
		hub:     hub,
		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),
	}
}

// Start launches the ping loop.
func (p *RTTPinger) Start() {
	go p.loop()
}

func (p *RTTPinger) loop() {
	ticker := time.NewTicker(p.hub.opts.rttInterval)
	defer func() {
		ticker.Stop()
		close(p.stopAck)
	}()

	for {
		select {
		case <-p.stopSyn:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *RTTPinger) tick() {
	now := time.Now().UnixMilli()
	p.hub.conns.Range(func(_, v any) bool {
		c := v.(*Conn)
		subject := c.Subject()
		if subject == "" {
			// Pre-register connections have nothing to record RTT on.
			return true
		}
		_ = c.Send(event.NewOutbound(subject, event.Ping, event.PingPayload{
			Timestamp: now,
		}))
		return true
	})
}

// Stop terminates the loop and waits for it to drain.
func (p *RTTPinger) Stop() {
	close(p.stopSyn)
	<-p.stopAck
}
