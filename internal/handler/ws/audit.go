package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/interactionlab/tandem/internal/admin"
	"github.com/interactionlab/tandem/internal/audit"
	"github.com/interactionlab/tandem/internal/domain/event"
	"github.com/interactionlab/tandem/internal/domain/model"
	"github.com/interactionlab/tandem/internal/domain/state"
	"github.com/interactionlab/tandem/internal/transport"
)

// onExclusion handles a client-side exclusion rule firing mid-game. The
// claim is validated against the live session, persisted to the events
// log, and only then turned into the teardown that informs the partner.
func (h *Handler) onExclusion(c *transport.Conn, subject model.SubjectID, raw json.RawMessage) {
	p, ok := decode[exclusionPayload](h, c, evExclusion, raw)
	if !ok {
		return
	}
	if err := h.manager.ValidateExclusion(p.SessionID, subject); err != nil {
		h.reply(c, "unknown_session", "mid_game_exclusion names no running session of yours")
		return
	}

	ev := event.ExclusionRecordedEvent{
		SessionID:   p.SessionID,
		SubjectID:   subject,
		Reason:      state.MapExclusionReason(p.Reason),
		RawReason:   p.Reason,
		FrameNumber: p.FrameNumber,
		Timestamp:   p.Timestamp,
	}
	// The audit record lands before the partner hears anything; a crash
	// between the two loses a broadcast, never the exclusion evidence.
	if err := h.sink.RecordExclusion(ev); err != nil {
		h.logger.Error("exclusion persist failed",
			slog.String("session_id", string(p.SessionID)),
			slog.Any("err", err))
	}

	ctx := context.Background()
	_ = h.manager.EndSession(ctx, p.SessionID, ev.Reason, p.Reason)
	h.publish(ctx, event.TopicExclusionRecorded, ev)
}

// onExport accepts one post-session validation export for the sink.
func (h *Handler) onExport(c *transport.Conn, subject model.SubjectID, raw json.RawMessage) {
	env, ok := decode[exportEnvelope](h, c, evExport, raw)
	if !ok {
		return
	}
	if env.SessionID == "" {
		h.reply(c, "invalid_export", "validation_export requires a session_id")
		return
	}

	err := h.sink.Receive(context.Background(), subject, env.SessionID, raw)
	switch {
	case err == nil:
	case errors.Is(err, audit.ErrInvalidExport):
		h.reply(c, "invalid_export", "export does not match the validation schema")
	case errors.Is(err, audit.ErrUnexpectedSubject):
		h.reply(c, "unknown_session", "session did not expect an export from you")
	case errors.Is(err, audit.ErrNoWindow):
		// Late exports are dropped quietly; the sink already logged it.
	default:
		h.logger.Error("export intake failed",
			slog.String("session_id", string(env.SessionID)),
			slog.Any("err", err))
	}
}

// onConsoleError mirrors a client console capture onto the bus for the
// admin rings. Fire and forget.
func (h *Handler) onConsoleError(c *transport.Conn, subject model.SubjectID, raw json.RawMessage) {
	p, ok := decode[consoleErrorPayload](h, c, evConsoleError, raw)
	if !ok {
		return
	}
	h.publish(context.Background(), event.TopicConsoleError, event.ConsoleErrorEvent{
		SubjectID: subject,
		SessionID: p.SessionID,
		Level:     p.Level,
		Message:   p.Message,
		Timestamp: p.Timestamp,
	})
}

// onAdminSubscribe joins the connection to the admin room for throttled
// state_update snapshots.
func (h *Handler) onAdminSubscribe(c *transport.Conn, subject model.SubjectID) {
	h.hub.JoinRoom(admin.Room, c.ID())
	h.logger.Info("admin subscribed",
		slog.String("subject_id", string(subject)),
		slog.String("conn_id", string(c.ID())))
}
