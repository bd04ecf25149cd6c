package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/interactionlab/tandem/internal/domain/event"
	"github.com/interactionlab/tandem/internal/domain/model"
	"github.com/interactionlab/tandem/internal/transport"
)

// Probe events go straight to the coordinator; it owns membership checks
// and discards anything for a probe that already finished.

func (h *Handler) onProbeSignal(c *transport.Conn, subject model.SubjectID, raw json.RawMessage) {
	p, ok := decode[probeSignalPayload](h, c, evProbeSignal, raw)
	if !ok {
		return
	}
	h.probes.HandleSignal(subject, p.ProbeID, p.Payload)
}

func (h *Handler) onProbeConnected(c *transport.Conn, subject model.SubjectID, raw json.RawMessage) {
	p, ok := decode[probeConnectedPayload](h, c, evProbeConnected, raw)
	if !ok {
		return
	}
	h.probes.HandleConnected(subject, p.ProbeID)
}

func (h *Handler) onProbeRTTReport(c *transport.Conn, subject model.SubjectID, raw json.RawMessage) {
	p, ok := decode[probeRTTReportPayload](h, c, evProbeRTTReport, raw)
	if !ok {
		return
	}
	h.probes.HandleRTTReport(subject, p.ProbeID, p.RTTMs)
}

func (h *Handler) onProbeFailed(c *transport.Conn, subject model.SubjectID, raw json.RawMessage) {
	p, ok := decode[probeFailedPayload](h, c, evProbeFailed, raw)
	if !ok {
		return
	}
	h.probes.HandleFailed(subject, p.ProbeID, p.Reason)
}

// onRelay forwards one opaque frame to the session peers. Only the session
// id is read here; the body travels verbatim.
func (h *Handler) onRelay(c *transport.Conn, subject model.SubjectID, kind event.Kind, raw json.RawMessage) {
	frame, ok := decode[relayFrame](h, c, kind.String(), raw)
	if !ok {
		return
	}
	if frame.SessionID == "" {
		h.reply(c, "unknown_session", kind.String()+" requires a session_id")
		return
	}
	h.relay.Forward(subject, frame.SessionID, kind, raw)
}

func (h *Handler) onEpisodeEnd(c *transport.Conn, subject model.SubjectID, raw json.RawMessage) {
	frame, ok := decode[relayFrame](h, c, evEpisodeEnd, raw)
	if !ok {
		return
	}
	if frame.SessionID == "" {
		h.reply(c, "unknown_session", "episode_end requires a session_id")
		return
	}
	h.relay.EpisodeEnd(subject, frame.SessionID, raw)
}

func (h *Handler) onHealthReport(c *transport.Conn, subject model.SubjectID, raw json.RawMessage) {
	p, ok := decode[healthReportPayload](h, c, evHealthReport, raw)
	if !ok {
		return
	}
	if p.SessionID == "" {
		h.reply(c, "unknown_session", "p2p_health_report requires a session_id")
		return
	}
	h.relay.HealthReport(context.Background(), subject, p.SessionID, model.P2PHealth{
		ConnectionType: p.ConnectionType,
		RTTMs:          p.RTTMs,
		Status:         p.Status,
		ReportedAt:     time.Now(),
	})
}
