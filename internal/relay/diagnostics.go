package relay

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pion/sdp/v3"

	"github.com/interactionlab/tandem/internal/domain/model"
)

// inspectSDP parses relayed offers/answers for debug logging only. The
// relayed body is never modified; a payload that does not parse is still
// forwarded untouched.
func (r *Relay) inspectSDP(from model.SubjectID, body json.RawMessage) {
	if !r.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	var frame struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	if err := json.Unmarshal(body, &frame); err != nil || frame.SDP == "" {
		return
	}

	var desc sdp.SessionDescription
	if err := desc.UnmarshalString(frame.SDP); err != nil {
		r.logger.Debug("relayed sdp did not parse",
			slog.String("subject_id", string(from)),
			slog.Any("err", err))
		return
	}

	candidates := 0
	dataChannels := 0
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media == "application" {
			dataChannels++
		}
		for _, a := range m.Attributes {
			if a.Key == "candidate" {
				candidates++
			}
		}
	}
	r.logger.Debug("relayed sdp",
		slog.String("subject_id", string(from)),
		slog.String("type", frame.Type),
		slog.Int("media_sections", len(desc.MediaDescriptions)),
		slog.Int("data_channels", dataChannels),
		slog.Int("candidates", candidates))
}
