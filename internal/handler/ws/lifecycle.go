package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/interactionlab/tandem/internal/domain/event"
	"github.com/interactionlab/tandem/internal/domain/model"
	"github.com/interactionlab/tandem/internal/transport"
)

// onRegister resolves the connection to a subject identity. A token naming
// a known participant recovers that record with its state, scene and
// stager intact; the hub supersedes any connection still bound to it.
func (h *Handler) onRegister(c *transport.Conn, raw json.RawMessage) {
	p, ok := decode[registerPayload](h, c, evRegister, raw)
	if !ok {
		return
	}

	subject, recovered := h.registry.RegisterOrRecover(c.ID(), p.Token)
	h.hub.BindSubject(c, subject)

	if len(p.CustomAttributes) > 0 {
		_ = h.registry.MergeAttributes(subject, p.CustomAttributes)
	}
	if len(p.StagerState) > 0 {
		_ = h.registry.SetStagerState(subject, p.StagerState)
	}

	h.send(c, subject, event.Registered, event.RegisteredPayload{
		SubjectID: subject,
		Recovered: recovered,
	})
	h.publish(context.Background(), event.TopicParticipantRegistered,
		event.ParticipantRegisteredEvent{SubjectID: subject, Recovered: recovered})
}

// onJoinGame enters the waitroom. Matchmaking can block on the probe gate,
// and the probe needs this connection's read loop to keep pumping signal
// frames, so the manager call must leave the loop.
func (h *Handler) onJoinGame(c *transport.Conn, subject model.SubjectID, raw json.RawMessage) {
	p, ok := decode[joinGamePayload](h, c, evJoinGame, raw)
	if !ok {
		return
	}
	if p.SceneID == "" {
		h.reply(c, "unknown_scene", "join_game requires a scene_id")
		return
	}
	go h.manager.AddSubjectToGame(context.Background(), subject, p.SceneID)
}

func (h *Handler) onLeaveGame(c *transport.Conn, subject model.SubjectID, raw json.RawMessage) {
	p, ok := decode[leaveGamePayload](h, c, evLeaveGame, raw)
	if !ok {
		return
	}
	h.manager.LeaveGame(context.Background(), subject, p.SessionID)
}

func (h *Handler) onAdvanceScene(c *transport.Conn, subject model.SubjectID, raw json.RawMessage) {
	p, ok := decode[advanceScenePayload](h, c, evAdvanceScene, raw)
	if !ok {
		return
	}
	if p.SceneID == "" {
		h.reply(c, "unknown_scene", "advance_scene requires a scene_id")
		return
	}
	h.manager.AdvanceScene(context.Background(), subject, p.SceneID)
}

// onPing folds the echoed server clock into the subject's RTT EWMA and
// answers with both clocks so the client can sample its own latency.
func (h *Handler) onPing(c *transport.Conn, subject model.SubjectID, raw json.RawMessage) {
	p, ok := decode[pingPayload](h, c, evPing, raw)
	if !ok {
		return
	}
	now := time.Now().UnixMilli()
	if p.Timestamp > 0 && p.Timestamp <= now {
		if err := h.registry.RecordRTT(subject, float64(now-p.Timestamp)); err != nil {
			h.logger.Debug("rtt sample dropped",
				slog.String("subject_id", string(subject)),
				slog.Any("err", err))
		}
	}
	h.send(c, subject, event.Pong, event.PongPayload{
		Timestamp:       p.Timestamp,
		ServerTimestamp: now,
	})
}
