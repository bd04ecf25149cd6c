package relay

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/interactionlab/tandem/internal/adapter/pubsub"
	"github.com/interactionlab/tandem/internal/domain/event"
	"github.com/interactionlab/tandem/internal/domain/model"
	"github.com/interactionlab/tandem/internal/transport"
)

// Sessions is the membership surface the relay gates on. Implemented by
// the lifecycle manager.
type Sessions interface {
	Membership(id model.SessionID, subject model.SubjectID) bool
	Peers(id model.SessionID, subject model.SubjectID) []model.SubjectID
	RecordHealth(id model.SessionID, subject model.SubjectID, h model.P2PHealth) error
	BumpEpisode(id model.SessionID) (int, error)
}

// Relay forwards opaque client payloads between session members. Bodies
// pass through verbatim; the only server contribution is the membership
// gate and the stamped sender identity, so a client can never spoof
// another player's frames.
//
// [ORDERING] Per-sender ordering holds end to end: each client's frames
// arrive on one connection read loop, relay synchronously, and enqueue
// into each receiver's outbound queue in arrival order.
type Relay struct {
	logger     *slog.Logger
	hub        transport.Hubber
	sessions   Sessions
	dispatcher pubsub.EventDispatcher
}

func New(logger *slog.Logger, hub transport.Hubber, sessions Sessions, dispatcher pubsub.EventDispatcher) *Relay {
	return &Relay{
		logger:     logger.With(slog.String("component", "relay")),
		hub:        hub,
		sessions:   sessions,
		dispatcher: dispatcher,
	}
}

// Forward fans one frame out to every other member of the session. Frames
// from non-members (or for ended sessions) are dropped with a warning;
// sending them an error would hand a probe for live session ids to any
// client.
func (r *Relay) Forward(from model.SubjectID, sessionID model.SessionID, kind event.Kind, body json.RawMessage) {
	if !r.sessions.Membership(sessionID, from) {
		r.logger.Warn("dropping relay frame from non-member",
			slog.String("subject_id", string(from)),
			slog.String("session_id", string(sessionID)),
			slog.String("event", kind.String()))
		return
	}
	if kind == event.PeerSDP {
		r.inspectSDP(from, body)
	}
	r.fanOut(from, sessionID, kind, body)
}

// EpisodeEnd relays an episode boundary and advances the session's episode
// counter so the admin surface tracks progress.
func (r *Relay) EpisodeEnd(from model.SubjectID, sessionID model.SessionID, body json.RawMessage) {
	if !r.sessions.Membership(sessionID, from) {
		return
	}
	if n, err := r.sessions.BumpEpisode(sessionID); err == nil {
		r.logger.Debug("episode boundary",
			slog.String("session_id", string(sessionID)),
			slog.Int("episode", n))
	}
	r.fanOut(from, sessionID, event.EpisodeEnd, body)
}

// HealthReport stores the reporter's peer-link snapshot and mirrors it to
// the observer bus. Nothing is relayed to peers.
func (r *Relay) HealthReport(ctx context.Context, from model.SubjectID, sessionID model.SessionID, h model.P2PHealth) {
	if err := r.sessions.RecordHealth(sessionID, from, h); err != nil {
		r.logger.Warn("health report rejected",
			slog.String("subject_id", string(from)),
			slog.String("session_id", string(sessionID)),
			slog.Any("err", err))
		return
	}
	if err := r.dispatcher.Publish(ctx, event.TopicHealthReported, event.HealthReportedEvent{
		SessionID:      sessionID,
		SubjectID:      from,
		ConnectionType: h.ConnectionType,
		RTTMs:          h.RTTMs,
		Status:         h.Status,
	}); err != nil {
		r.logger.Error("bus publish failed",
			slog.String("topic", event.TopicHealthReported),
			slog.Any("err", err))
	}
}

func (r *Relay) fanOut(from model.SubjectID, sessionID model.SessionID, kind event.Kind, body json.RawMessage) {
	payload := event.RelayPayload{
		SessionID: sessionID,
		From:      from,
		Body:      body,
	}
	for _, peer := range r.sessions.Peers(sessionID, from) {
		r.hub.EmitToSubject(peer, event.NewOutbound(peer, kind, payload))
	}
}
