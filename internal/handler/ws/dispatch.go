package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/interactionlab/tandem/internal/domain/event"
	"github.com/interactionlab/tandem/internal/domain/model"
	"github.com/interactionlab/tandem/internal/transport"
)

// Client-to-server event names. Server-to-client names live on event.Kind.
const (
	evRegister        = "register"
	evJoinGame        = "join_game"
	evLeaveGame       = "leave_game"
	evAdvanceScene    = "advance_scene"
	evLoadingStart    = "pyodide_loading_start"
	evLoadingComplete = "pyodide_loading_complete"
	evPing            = "ping"
	evProbeSignal     = "probe_signal"
	evProbeConnected  = "probe_connected"
	evProbeRTTReport  = "probe_rtt_report"
	evProbeFailed     = "probe_failed"
	evPeerSDP         = "peer_sdp"
	evPeerICE         = "peer_ice"
	evPlayerAction    = "player_action"
	evEpisodeEnd      = "episode_end"
	evStateHash       = "state_hash"
	evFocusState      = "focus_state"
	evHealthReport    = "p2p_health_report"
	evExclusion       = "mid_game_exclusion"
	evExport          = "validation_export"
	evConsoleError    = "console_error"
	evAdminSubscribe  = "admin_subscribe"
)

// dispatch routes one inbound frame. It runs on the connection's read
// loop goroutine, so per-sender ordering is the loop's ordering; handlers
// that can block (the probe gate behind join_game) go async explicitly.
func (h *Handler) dispatch(c *transport.Conn, env transport.Envelope) {
	if env.Event == evRegister {
		h.onRegister(c, env.Payload)
		return
	}

	subject := c.Subject()
	if subject == "" {
		h.reply(c, "not_registered", "register before sending events")
		return
	}

	switch env.Event {
	case evJoinGame:
		h.onJoinGame(c, subject, env.Payload)
	case evLeaveGame:
		h.onLeaveGame(c, subject, env.Payload)
	case evAdvanceScene:
		h.onAdvanceScene(c, subject, env.Payload)
	case evLoadingStart:
		h.grace.Start(subject)
	case evLoadingComplete:
		h.grace.Complete(subject)
	case evPing:
		h.onPing(c, subject, env.Payload)

	case evProbeSignal:
		h.onProbeSignal(c, subject, env.Payload)
	case evProbeConnected:
		h.onProbeConnected(c, subject, env.Payload)
	case evProbeRTTReport:
		h.onProbeRTTReport(c, subject, env.Payload)
	case evProbeFailed:
		h.onProbeFailed(c, subject, env.Payload)

	case evPeerSDP:
		h.onRelay(c, subject, event.PeerSDP, env.Payload)
	case evPeerICE:
		h.onRelay(c, subject, event.PeerICE, env.Payload)
	case evPlayerAction:
		h.onRelay(c, subject, event.PlayerAction, env.Payload)
	case evStateHash:
		h.onRelay(c, subject, event.StateHash, env.Payload)
	case evFocusState:
		h.onRelay(c, subject, event.FocusState, env.Payload)
	case evEpisodeEnd:
		h.onEpisodeEnd(c, subject, env.Payload)
	case evHealthReport:
		h.onHealthReport(c, subject, env.Payload)

	case evExclusion:
		h.onExclusion(c, subject, env.Payload)
	case evExport:
		h.onExport(c, subject, env.Payload)
	case evConsoleError:
		h.onConsoleError(c, subject, env.Payload)
	case evAdminSubscribe:
		h.onAdminSubscribe(c, subject)

	default:
		h.logger.Debug("unknown inbound event",
			slog.String("event", env.Event),
			slog.String("subject_id", string(subject)))
		h.reply(c, "unknown_event", "event "+env.Event+" is not part of the protocol")
	}
}

// decode unmarshals a typed payload; on failure the caller gets nil and
// the client a tagged error, keeping the connection alive.
func decode[T any](h *Handler, c *transport.Conn, name string, raw json.RawMessage) (*T, bool) {
	p := new(T)
	if len(raw) == 0 {
		return p, true
	}
	if err := json.Unmarshal(raw, p); err != nil {
		h.logger.Warn("rejecting undecodable payload",
			slog.String("event", name),
			slog.String("subject_id", string(c.Subject())),
			slog.Any("err", err))
		h.reply(c, "invalid_payload", "payload does not match the "+name+" shape")
		return nil, false
	}
	return p, true
}

// reply emits a tagged protocol error to the sending connection.
func (h *Handler) reply(c *transport.Conn, code, msg string) {
	_ = c.Send(event.NewOutbound(c.Subject(), event.Error,
		event.ErrorPayload{Code: code, Message: msg}))
}

func (h *Handler) send(c *transport.Conn, subject model.SubjectID, kind event.Kind, payload any) {
	_ = c.Send(event.NewOutbound(subject, kind, payload))
}

func (h *Handler) publish(ctx context.Context, topic string, payload any) {
	if err := h.dispatcher.Publish(ctx, topic, payload); err != nil {
		h.logger.Error("bus publish failed",
			slog.String("topic", topic),
			slog.Any("err", err))
	}
}
