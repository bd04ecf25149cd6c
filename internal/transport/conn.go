package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/interactionlab/tandem/internal/domain/event"
	"github.com/interactionlab/tandem/internal/domain/model"
)

// Metadata is the per-connection transport context kept for logs and the
// admin surface.
type Metadata struct {
	RemoteIP  string
	UserAgent string
}

// Conn wraps one websocket with a single-writer pump and the bounded
// outbound queue. The read side runs in the HTTP handler goroutine; the
// write side is owned by writeLoop.
type Conn struct {
	id    model.ConnectionID
	ws    *websocket.Conn
	queue *sendQueue
	cfg   pumpConfig

	logger *slog.Logger
	meta   Metadata

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu      sync.RWMutex
	subject model.SubjectID
	stale   bool

	createdAt time.Time
}

type pumpConfig struct {
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
	queueSize      int
}

func newConn(ws *websocket.Conn, logger *slog.Logger, cfg pumpConfig, meta Metadata) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	id := model.NewConnectionID()
	return &Conn{
		id:        id,
		ws:        ws,
		queue:     newSendQueue(cfg.queueSize),
		cfg:       cfg,
		logger:    logger.With(slog.String("conn_id", string(id))),
		meta:      meta,
		ctx:       ctx,
		cancel:    cancel,
		createdAt: time.Now(),
	}
}

func (c *Conn) ID() model.ConnectionID { return c.id }
func (c *Conn) Meta() Metadata         { return c.meta }

// Subject returns the bound identity, empty before register completes.
func (c *Conn) Subject() model.SubjectID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subject
}

func (c *Conn) bindSubject(s model.SubjectID) {
	c.mu.Lock()
	c.subject = s
	c.mu.Unlock()
}

// markStale flags this connection as superseded by a newer one for the
// same subject; its disconnect must not run destructive cleanup.
func (c *Conn) markStale() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

func (c *Conn) IsStale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stale
}

// Send enqueues an event for delivery. A High-priority event that cannot
// fit closes the connection: the peer is too far behind to keep its
// lifecycle consistent.
func (c *Conn) Send(ev event.Eventer) error {
	evicted, err := c.queue.push(ev)
	switch {
	case errors.Is(err, ErrEmitOverflow):
		c.logger.Warn("closing connection on critical emit overflow",
			slog.String("event", ev.GetKind().String()))
		c.Close()
		return err
	case err != nil:
		return err
	}
	if evicted > 0 {
		c.logger.Debug("dropped queued event under backpressure",
			slog.String("incoming", ev.GetKind().String()))
	}
	return nil
}

// ReadLoop pumps inbound frames into the dispatcher until the peer goes
// away. It must be called exactly once, from the accepting goroutine.
func (c *Conn) ReadLoop(dispatch func(*Conn, Envelope)) {
	defer c.Close()

	c.ws.SetReadLimit(c.cfg.maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read loop closed", slog.Any("err", err))
			}
			return
		}

		env, err := DecodeFrame(data)
		if err != nil {
			// Reject the frame, keep the connection: one malformed message
			// is not grounds for killing a live session.
			c.logger.Warn("rejecting malformed frame", slog.Any("err", err))
			_ = c.Send(event.NewOutbound(c.Subject(), event.Error, event.ErrorPayload{
				Code:    "malformed_frame",
				Message: "payload is not a valid event envelope",
			}))
			continue
		}
		dispatch(c, env)
	}
}

// writeLoop is the single writer: queued frames, heartbeat pings, and the
// final close frame all leave through here.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.cfg.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-c.queue.wait():
			if err := c.flush(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) flush() error {
	for {
		ev, ok := c.queue.pop()
		if !ok {
			return nil
		}
		frame, err := EncodeFrame(ev)
		if err != nil {
			c.logger.Error("dropping unmarshalable event",
				slog.String("event", ev.GetKind().String()),
				slog.Any("err", err))
			continue
		}
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			return err
		}
	}
}

// Close tears the connection down exactly once. Safe from any goroutine.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.queue.close()
		_ = c.ws.Close()
	})
}

// Done resolves when the connection is fully closed.
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }

// QueueDepth and Dropped expose queue pressure for the stats surface.
func (c *Conn) QueueDepth() int { return c.queue.len() }
func (c *Conn) Dropped() uint64 { return c.queue.droppedCount() }
