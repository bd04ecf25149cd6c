package audit

import (
	"sort"

	"github.com/interactionlab/tandem/internal/domain/model"
)

// ParityResult classifies one session's cross-checked exports.
type ParityResult string

const (
	ParityPass       ParityResult = "pass"
	ParityDesync     ParityResult = "desync"
	ParityDivergence ParityResult = "divergence"
	ParityPartial    ParityResult = "partial"
)

// DesyncRecord is one frame where confirmed hashes disagree. Hashes maps
// each reporting subject to the hash it confirmed; an empty string means
// the export had no entry for the frame.
type DesyncRecord struct {
	Frame  int                        `json:"frame"`
	Hashes map[model.SubjectID]string `json:"hashes"`
}

// DivergenceRecord is one (frame, player) where verified actions disagree.
type DivergenceRecord struct {
	Frame   int                     `json:"frame"`
	Player  model.SubjectID         `json:"player"`
	Actions map[model.SubjectID]int `json:"actions"`
}

// Report is the persisted parity verdict for one session.
type Report struct {
	SessionID   model.SessionID    `json:"session_id"`
	Result      ParityResult       `json:"result"`
	Horizon     int                `json:"horizon"`
	Missing     []model.SubjectID  `json:"missing,omitempty"`
	Desyncs     []DesyncRecord     `json:"desyncs,omitempty"`
	Divergences []DivergenceRecord `json:"divergences,omitempty"`
}

// Failed reports whether the session must be flagged for the researcher.
func (r Report) Failed() bool { return r.Result != ParityPass }

// ValidateParity cross-checks the collected exports. Frames are compared
// only up to the common verified horizon, min(summary.verified_frame)
// across exports; anything above it is unverifiable by definition and is
// not flagged. The check is pure: same inputs, same report.
func ValidateParity(sessionID model.SessionID, expected []model.SubjectID, exports map[model.SubjectID]*model.ValidationExport) Report {
	rep := Report{SessionID: sessionID, Horizon: -1}

	for _, s := range expected {
		if _, ok := exports[s]; !ok {
			rep.Missing = append(rep.Missing, s)
		}
	}
	sort.Slice(rep.Missing, func(i, j int) bool { return rep.Missing[i] < rep.Missing[j] })

	if len(exports) > 0 {
		first := true
		for _, e := range exports {
			if first || e.Summary.VerifiedFrame < rep.Horizon {
				rep.Horizon = e.Summary.VerifiedFrame
				first = false
			}
		}
		rep.Desyncs = hashParity(exports, rep.Horizon)
		rep.Divergences = actionParity(exports, rep.Horizon)
	}

	switch {
	case len(rep.Desyncs) > 0:
		rep.Result = ParityDesync
	case len(rep.Divergences) > 0:
		rep.Result = ParityDivergence
	case len(rep.Missing) > 0:
		rep.Result = ParityPartial
	default:
		rep.Result = ParityPass
	}
	return rep
}

// hashParity flags every frame at or below the horizon where the exports
// do not all carry the identical confirmed hash. A missing entry counts
// as a mismatch: every client must have confirmed every frame it claims
// as verified.
func hashParity(exports map[model.SubjectID]*model.ValidationExport, horizon int) []DesyncRecord {
	var out []DesyncRecord
	for _, frame := range framesUpTo(exports, horizon) {
		hashes := make(map[model.SubjectID]string, len(exports))
		mismatch := false
		var ref string
		refSet := false
		for subject, e := range exports {
			h, ok := e.HashAt(frame)
			hashes[subject] = h
			if !ok {
				mismatch = true
				continue
			}
			if !refSet {
				ref, refSet = h, true
			} else if h != ref {
				mismatch = true
			}
		}
		if mismatch {
			out = append(out, DesyncRecord{Frame: frame, Hashes: hashes})
		}
	}
	return out
}

// actionParity flags every (frame, player) at or below the horizon where
// two exports that both cover the frame report different actions. Unlike
// hashes, coverage may legitimately differ per export, so only exports
// that carry the frame participate.
func actionParity(exports map[model.SubjectID]*model.ValidationExport, horizon int) []DivergenceRecord {
	var out []DivergenceRecord
	for _, player := range playersOf(exports) {
		for _, frame := range actionFramesUpTo(exports, player, horizon) {
			actions := make(map[model.SubjectID]int)
			mismatch := false
			var ref int
			refSet := false
			for subject, e := range exports {
				a, ok := e.ActionAt(player, frame)
				if !ok {
					continue
				}
				actions[subject] = a
				if !refSet {
					ref, refSet = a, true
				} else if a != ref {
					mismatch = true
				}
			}
			if mismatch {
				out = append(out, DivergenceRecord{Frame: frame, Player: player, Actions: actions})
			}
		}
	}
	return out
}

// framesUpTo returns the sorted union of confirmed-hash frames at or
// below the horizon.
func framesUpTo(exports map[model.SubjectID]*model.ValidationExport, horizon int) []int {
	seen := make(map[int]struct{})
	for _, e := range exports {
		for _, fh := range e.ConfirmedHashes {
			if fh.Frame <= horizon {
				seen[fh.Frame] = struct{}{}
			}
		}
	}
	return sortedInts(seen)
}

func actionFramesUpTo(exports map[model.SubjectID]*model.ValidationExport, player model.SubjectID, horizon int) []int {
	seen := make(map[int]struct{})
	for _, e := range exports {
		for _, fa := range e.VerifiedActions[player] {
			if fa.Frame <= horizon {
				seen[fa.Frame] = struct{}{}
			}
		}
	}
	return sortedInts(seen)
}

func playersOf(exports map[model.SubjectID]*model.ValidationExport) []model.SubjectID {
	seen := make(map[model.SubjectID]struct{})
	for _, e := range exports {
		for p := range e.VerifiedActions {
			seen[p] = struct{}{}
		}
	}
	out := make([]model.SubjectID, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedInts(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Ints(out)
	return out
}
