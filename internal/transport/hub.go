package transport

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/interactionlab/tandem/internal/domain/event"
	"github.com/interactionlab/tandem/internal/domain/model"
)

// Hubber is the emit surface the rest of the coordinator depends on.
type Hubber interface {
	EmitToConn(connID model.ConnectionID, ev event.Eventer) bool
	EmitToSubject(subject model.SubjectID, ev event.Eventer) bool
	EmitToRoom(room string, ev event.Eventer) int
	Broadcast(ev event.Eventer) int

	JoinRoom(room string, connID model.ConnectionID)
	LeaveRoom(room string, connID model.ConnectionID)
	DropRoom(room string)

	IsConnected(subject model.SubjectID) bool
	ConnIDOf(subject model.SubjectID) (model.ConnectionID, bool)
	CloseSubject(subject model.SubjectID)
}

// Interface guard
var _ Hubber = (*Hub)(nil)

// DisconnectFunc is invoked after a connection leaves the hub. stale means
// the connection had already been superseded and must not trigger
// destructive cleanup.
type DisconnectFunc func(subject model.SubjectID, connID model.ConnectionID, stale bool)

// Hub owns every live connection, the subject index, and the room tables.
//
// [LOCKING] conns is a sync.Map for read-heavy emit paths; subjects and
// rooms share one RWMutex with strictly short critical sections. Sends
// happen outside all locks on copy-outs.
type Hub struct {
	logger *slog.Logger
	opts   options

	// conns maps ConnectionID to *Conn. [READ_HEAVY]
	conns sync.Map

	mu       sync.RWMutex
	subjects map[model.SubjectID]model.ConnectionID
	rooms    map[string]map[model.ConnectionID]struct{}

	onDisconnect DisconnectFunc
}

func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &Hub{
		logger:   logger.With(slog.String("component", "hub")),
		opts:     o,
		subjects: make(map[model.SubjectID]model.ConnectionID),
		rooms:    make(map[string]map[model.ConnectionID]struct{}),
	}
}

// SetDisconnectHandler wires the lifecycle manager's disconnect path. Must
// be called during composition, before any connection is accepted.
func (h *Hub) SetDisconnectHandler(fn DisconnectFunc) { h.onDisconnect = fn }

// Accept adopts an upgraded websocket: registers the connection and starts
// its write pump. The caller runs ReadLoop and releases via Release.
func (h *Hub) Accept(ws *websocket.Conn, meta Metadata) *Conn {
	c := newConn(ws, h.logger, h.opts.pump(), meta)
	h.conns.Store(c.ID(), c)
	go c.writeLoop()
	h.logger.Debug("connection accepted",
		slog.String("conn_id", string(c.ID())),
		slog.String("remote_ip", meta.RemoteIP))
	return c
}

// Release removes the connection from every table and fires the disconnect
// callback. Idempotent per connection.
func (h *Hub) Release(c *Conn) {
	c.Close()
	if _, loaded := h.conns.LoadAndDelete(c.ID()); !loaded {
		return
	}

	subject := c.Subject()
	stale := c.IsStale()

	h.mu.Lock()
	for room, members := range h.rooms {
		delete(members, c.ID())
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	// Only the current binding is cleared: a stale connection's subject
	// already points at its successor.
	if subject != "" && h.subjects[subject] == c.ID() {
		delete(h.subjects, subject)
	}
	h.mu.Unlock()

	if subject != "" && h.onDisconnect != nil {
		h.onDisconnect(subject, c.ID(), stale)
	}
}

// BindSubject attaches an identity to a connection. A live previous
// connection for the same subject is marked stale and closed; in-flight
// messages on it are lost by design of the swap.
func (h *Hub) BindSubject(c *Conn, subject model.SubjectID) (swapped bool) {
	h.mu.Lock()
	prevID, had := h.subjects[subject]
	h.subjects[subject] = c.ID()
	h.mu.Unlock()

	c.bindSubject(subject)

	if !had || prevID == c.ID() {
		return false
	}
	if v, ok := h.conns.Load(prevID); ok {
		prev := v.(*Conn)
		prev.markStale()
		prev.Close()
		h.logger.Info("superseded duplicate connection",
			slog.String("subject_id", string(subject)),
			slog.String("old_conn", string(prevID)),
			slog.String("new_conn", string(c.ID())))
		return true
	}
	return false
}

func (h *Hub) IsConnected(subject model.SubjectID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subjects[subject]
	return ok
}

// CloseSubject force-closes the subject's current connection, if any.
func (h *Hub) CloseSubject(subject model.SubjectID) {
	h.mu.RLock()
	connID, ok := h.subjects[subject]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if v, ok := h.conns.Load(connID); ok {
		v.(*Conn).Close()
	}
}

// EmitToConn delivers to one physical connection.
func (h *Hub) EmitToConn(connID model.ConnectionID, ev event.Eventer) bool {
	v, ok := h.conns.Load(connID)
	if !ok {
		return false
	}
	if err := v.(*Conn).Send(ev); err != nil {
		h.logger.Debug("emit to connection failed",
			slog.String("conn_id", string(connID)),
			slog.String("event", ev.GetKind().String()),
			slog.Any("err", err))
		return false
	}
	return true
}

// EmitToSubject delivers to the subject's current connection. A failed
// emit is logged and discarded; the liveness overlay owns detection.
func (h *Hub) EmitToSubject(subject model.SubjectID, ev event.Eventer) bool {
	h.mu.RLock()
	connID, ok := h.subjects[subject]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.EmitToConn(connID, ev)
}

// EmitToRoom fans out to every room member, best effort per target.
// Returns the number of successful enqueues.
func (h *Hub) EmitToRoom(room string, ev event.Eventer) int {
	h.mu.RLock()
	members := make([]model.ConnectionID, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		members = append(members, id)
	}
	h.mu.RUnlock()

	sent := 0
	for _, id := range members {
		if h.EmitToConn(id, ev) {
			sent++
		}
	}
	return sent
}

// Broadcast fans out to every live connection.
func (h *Hub) Broadcast(ev event.Eventer) int {
	sent := 0
	h.conns.Range(func(_, v any) bool {
		if v.(*Conn).Send(ev) == nil {
			sent++
		}
		return true
	})
	return sent
}

func (h *Hub) JoinRoom(room string, connID model.ConnectionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[model.ConnectionID]struct{})
		h.rooms[room] = members
	}
	members[connID] = struct{}{}
}

func (h *Hub) LeaveRoom(room string, connID model.ConnectionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// DropRoom removes the room wholesale, e.g. when a session is released.
func (h *Hub) DropRoom(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, room)
}

// ConnIDOf resolves the subject's current connection for room joins.
func (h *Hub) ConnIDOf(subject model.SubjectID) (model.ConnectionID, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.subjects[subject]
	return id, ok
}

// Stats snapshots hub occupancy for the admin read surface.
func (h *Hub) Stats() Stats {
	var s Stats
	h.conns.Range(func(_, v any) bool {
		c := v.(*Conn)
		s.Connections++
		s.QueuedEvents += c.QueueDepth()
		s.DroppedEvents += c.Dropped()
		return true
	})
	h.mu.RLock()
	s.Subjects = len(h.subjects)
	s.Rooms = len(h.rooms)
	h.mu.RUnlock()
	return s
}

// Shutdown closes every connection; used on process stop.
func (h *Hub) Shutdown() {
	h.conns.Range(func(_, v any) bool {
		v.(*Conn).Close()
		return true
	})
}

// Stats is the hub occupancy snapshot.
type Stats struct {
	Connections   int    `json:"connections"`
	Subjects      int    `json:"subjects"`
	Rooms         int    `json:"rooms"`
	QueuedEvents  int    `json:"queued_events"`
	DroppedEvents uint64 `json:"dropped_events"`
}
