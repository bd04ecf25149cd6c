package state

// TerminationReason classifies why a session ended. It drives the
// participant-facing message (per-scene configuration) and the audit record.
type TerminationReason string

const (
	ReasonNormal              TerminationReason = "normal"
	ReasonPartnerDisconnected TerminationReason = "partner_disconnected"
	ReasonSustainedLatency    TerminationReason = "sustained_latency"
	ReasonTabHiddenTimeout    TerminationReason = "tab_hidden_timeout"
	ReasonCustomExclusion     TerminationReason = "custom_exclusion"
	ReasonProbeFailed         TerminationReason = "probe_failed"
	ReasonFocusLossTimeout    TerminationReason = "focus_loss_timeout"
)

func (r TerminationReason) String() string { return string(r) }

// knownReasons is the closed taxonomy; anything a client sends outside of it
// is folded into custom_exclusion.
var knownReasons = map[TerminationReason]struct{}{
	ReasonNormal:              {},
	ReasonPartnerDisconnected: {},
	ReasonSustainedLatency:    {},
	ReasonTabHiddenTimeout:    {},
	ReasonCustomExclusion:     {},
	ReasonProbeFailed:         {},
	ReasonFocusLossTimeout:    {},
}

// MapExclusionReason folds a client-supplied exclusion reason into the
// termination taxonomy. Unknown strings become custom_exclusion; the raw
// string is preserved by the caller in the audit record.
func MapExclusionReason(raw string) TerminationReason {
	r := TerminationReason(raw)
	if _, ok := knownReasons[r]; ok {
		return r
	}
	return ReasonCustomExclusion
}
