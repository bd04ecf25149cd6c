package ws

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/interactionlab/tandem/internal/adapter/pubsub"
	"github.com/interactionlab/tandem/internal/audit"
	"github.com/interactionlab/tandem/internal/grace"
	"github.com/interactionlab/tandem/internal/probe"
	"github.com/interactionlab/tandem/internal/registry"
	"github.com/interactionlab/tandem/internal/relay"
	"github.com/interactionlab/tandem/internal/session"
	"github.com/interactionlab/tandem/internal/transport"
)

// Handler is the client protocol endpoint: it upgrades, hands the socket
// to the hub, and pumps inbound frames through the dispatch table. Every
// client-facing operation of the coordinator enters here.
type Handler struct {
	logger     *slog.Logger
	hub        *transport.Hub
	registry   *registry.Registry
	manager    *session.Manager
	relay      *relay.Relay
	probes     *probe.Coordinator
	grace      *grace.Table
	sink       *audit.Sink
	dispatcher pubsub.EventDispatcher
	upgrader   websocket.Upgrader
}

func NewHandler(
	logger *slog.Logger,
	hub *transport.Hub,
	reg *registry.Registry,
	manager *session.Manager,
	rel *relay.Relay,
	probes *probe.Coordinator,
	graceTable *grace.Table,
	sink *audit.Sink,
	dispatcher pubsub.EventDispatcher,
) *Handler {
	return &Handler{
		logger:     logger.With(slog.String("component", "ws_handler")),
		hub:        hub,
		registry:   reg,
		manager:    manager,
		relay:      rel,
		probes:     probes,
		grace:      graceTable,
		sink:       sink,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Participants arrive from researcher-hosted pages on arbitrary
			// origins; access control happens at deployment level.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", slog.Any("err", err))
		return
	}

	remoteIP, _, splitErr := net.SplitHostPort(r.RemoteAddr)
	if splitErr != nil {
		remoteIP = r.RemoteAddr
	}
	conn := h.hub.Accept(ws, transport.Metadata{
		RemoteIP:  remoteIP,
		UserAgent: r.UserAgent(),
	})
	defer h.hub.Release(conn)

	h.logger.Info("connection opened",
		slog.String("conn_id", string(conn.ID())),
		slog.String("remote_ip", remoteIP))

	conn.ReadLoop(h.dispatch)

	h.logger.Info("connection closed",
		slog.String("conn_id", string(conn.ID())),
		slog.String("subject_id", string(conn.Subject())))
}
