package event

import "github.com/interactionlab/tandem/internal/domain/model"

// Kind enumerates server-to-client wire events flowing through the hub.
type Kind int16

const (
	Registered       Kind = iota + 1 // [LIFECYCLE]
	WaitroomJoined                   // [LIFECYCLE]
	WaitroomLeft                     // [LIFECYCLE]
	GameStart                        // [LIFECYCLE]
	SessionEnded                     // [LIFECYCLE]
	ProbeStart                       // [PROBE]
	ProbeSignal                      // [PROBE] relayed SDP/ICE, opaque
	ProbePingRequest                 // [PROBE]
	ProbeFailed                      // [PROBE]
	PeerSDP                          // [RELAY] opaque signaling
	PeerICE                          // [RELAY] opaque signaling
	PlayerAction                     // [RELAY] fallback input path
	EpisodeEnd                       // [RELAY]
	StateHash                        // [RELAY]
	FocusState                       // [RELAY]
	Ping                             // [LIVENESS] app-level RTT sample
	Pong                             // [LIVENESS] reply to client echo
	StateUpdate                      // [ADMIN] throttled session snapshot
	Error                            // [PROTOCOL] tagged failure
)

// wireNames maps kinds to the envelope event names clients dispatch on.
var wireNames = map[Kind]string{
	Registered:       "registered",
	WaitroomJoined:   "waitroom_joined",
	WaitroomLeft:     "waitroom_left",
	GameStart:        "game_start",
	SessionEnded:     "session_ended",
	ProbeStart:       "probe_start",
	ProbeSignal:      "probe_signal",
	ProbePingRequest: "probe_ping_request",
	ProbeFailed:      "probe_failed",
	PeerSDP:          "peer_sdp",
	PeerICE:          "peer_ice",
	PlayerAction:     "player_action",
	EpisodeEnd:       "episode_end",
	StateHash:        "state_hash",
	FocusState:       "focus_state",
	Ping:             "ping",
	Pong:             "pong",
	StateUpdate:      "state_update",
	Error:            "error",
}

func (k Kind) String() string {
	if name, ok := wireNames[k]; ok {
		return name
	}
	return "unknown"
}

// Priority orders events inside a connection's bounded outbound queue.
// On overflow the oldest lowest-priority entry is evicted first. High
// entries are never dropped; failure to enqueue one closes the connection.
type Priority int32

const (
	PriorityLow    Priority = 10 // liveness pings, admin snapshots
	PriorityNormal Priority = 20 // relayed game traffic, protocol errors
	PriorityHigh   Priority = 30 // lifecycle and probe outcomes
)

// priorities fixes the class of each kind; unlisted kinds default Normal.
var priorities = map[Kind]Priority{
	Registered:       PriorityHigh,
	WaitroomJoined:   PriorityHigh,
	WaitroomLeft:     PriorityHigh,
	GameStart:        PriorityHigh,
	SessionEnded:     PriorityHigh,
	ProbeStart:       PriorityHigh,
	ProbeSignal:      PriorityHigh,
	ProbePingRequest: PriorityHigh,
	ProbeFailed:      PriorityHigh,
	Ping:             PriorityLow,
	Pong:             PriorityLow,
	StateUpdate:      PriorityLow,
}

// PriorityOf returns the queue class for a kind.
func PriorityOf(k Kind) Priority {
	if p, ok := priorities[k]; ok {
		return p
	}
	return PriorityNormal
}

// Eventer is the contract for everything the hub can deliver to a client.
type Eventer interface {
	GetID() string
	GetKind() Kind
	GetSubjectID() model.SubjectID
	GetPriority() Priority
	GetOccurredAt() int64
	GetPayload() any
	// Frame memoizes the marshalled wire frame so a room fan-out serializes
	// the envelope once, no matter how many write loops ask concurrently.
	Frame(encode func() ([]byte, error)) ([]byte, error)
}
