package state

import "errors"

// ErrInvalidTransition is returned when a requested state change is not an
// edge of the lifecycle graph. Callers log and reject; they never panic.
var ErrInvalidTransition = errors.New("invalid state transition")

// ParticipantState is the lifecycle position of a single participant.
type ParticipantState string

const (
	ParticipantIdle       ParticipantState = "IDLE"
	ParticipantInWaitroom ParticipantState = "IN_WAITROOM"
	ParticipantInGame     ParticipantState = "IN_GAME"
	ParticipantGameEnded  ParticipantState = "GAME_ENDED"
)

// validParticipantTransitions encodes the participant lifecycle graph.
// The "any -> IDLE" reset edge (retention expiry) is handled by Reset, not
// listed here, so that protocol-driven transitions stay strict.
var validParticipantTransitions = map[ParticipantState][]ParticipantState{
	ParticipantIdle:       {ParticipantInWaitroom},
	ParticipantInWaitroom: {ParticipantInGame, ParticipantIdle},
	ParticipantInGame:     {ParticipantGameEnded},
	ParticipantGameEnded:  {ParticipantIdle},
}

// CanTransitionTo reports whether moving to target is a valid lifecycle edge.
func (s ParticipantState) CanTransitionTo(target ParticipantState) bool {
	for _, next := range validParticipantTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// CanJoinWaitroom gates waitroom entry: only idle participants may queue.
func (s ParticipantState) CanJoinWaitroom() bool {
	return s == ParticipantIdle
}

func (s ParticipantState) String() string { return string(s) }

// SessionState is the lifecycle position of a matched session. Transitions
// are monotonic: once a state is left it is never re-entered.
type SessionState string

const (
	SessionWaiting    SessionState = "WAITING"
	SessionMatched    SessionState = "MATCHED"
	SessionValidating SessionState = "VALIDATING"
	SessionPlaying    SessionState = "PLAYING"
	SessionEnded      SessionState = "ENDED"
)

// validSessionTransitions encodes the session lifecycle graph. Every live
// state may fall to ENDED; VALIDATING is skipped when no probe gate is
// configured for the scene.
var validSessionTransitions = map[SessionState][]SessionState{
	SessionWaiting:    {SessionMatched, SessionEnded},
	SessionMatched:    {SessionValidating, SessionPlaying, SessionEnded},
	SessionValidating: {SessionPlaying, SessionEnded},
	SessionPlaying:    {SessionEnded},
}

// CanTransitionTo reports whether moving to target is a valid lifecycle edge.
func (s SessionState) CanTransitionTo(target SessionState) bool {
	for _, next := range validSessionTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the session has reached its final state.
func (s SessionState) IsTerminal() bool { return s == SessionEnded }

func (s SessionState) String() string { return string(s) }
