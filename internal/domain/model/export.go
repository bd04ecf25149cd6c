package model

import "time"

// ValidationExport is the post-session research blob each client uploads:
// confirmed frame hashes, the action sequences it verified per player, and
// any desync events it observed. The audit sink cross-checks these for
// bit-exact parity between peers.
type ValidationExport struct {
	SessionID SessionID `json:"session_id"`
	SubjectID SubjectID `json:"subject_id"`

	// ConfirmedHashes is frame-ordered; hashes are 32-char lowercase hex.
	ConfirmedHashes []FrameHash `json:"confirmed_hashes"`

	// VerifiedActions maps each player to the frame-ordered actions this
	// client verified for them.
	VerifiedActions map[SubjectID][]FrameAction `json:"verified_actions"`

	DesyncEvents []DesyncEvent `json:"desync_events"`
	Summary      ExportSummary `json:"summary"`

	ReceivedAt time.Time `json:"received_at,omitempty"`
}

type FrameHash struct {
	Frame int    `json:"frame"`
	Hash  string `json:"hash"`
}

type FrameAction struct {
	Frame  int `json:"frame"`
	Action int `json:"action"`
}

type DesyncEvent struct {
	Frame              int    `json:"frame"`
	OurHash            string `json:"our_hash"`
	PeerHash           string `json:"peer_hash"`
	Timestamp          int64  `json:"timestamp"`
	HashWasStateDumped bool   `json:"hash_was_state_dumped"`
}

type ExportSummary struct {
	TotalFrames   int `json:"total_frames"`
	VerifiedFrame int `json:"verified_frame"`
	DesyncCount   int `json:"desync_count"`
}

// HashAt returns the confirmed hash for a frame, if the export covers it.
func (e *ValidationExport) HashAt(frame int) (string, bool) {
	for _, fh := range e.ConfirmedHashes {
		if fh.Frame == frame {
			return fh.Hash, true
		}
	}
	return "", false
}

// ActionAt returns the verified action of player at frame, if covered.
func (e *ValidationExport) ActionAt(player SubjectID, frame int) (int, bool) {
	for _, fa := range e.VerifiedActions[player] {
		if fa.Frame == frame {
			return fa.Action, true
		}
	}
	return 0, false
}
