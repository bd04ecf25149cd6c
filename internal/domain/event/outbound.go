package event

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/interactionlab/tandem/internal/domain/model"
)

// [GUARD] Ensure compliance with the Eventer interface.
var _ Eventer = (*Outbound)(nil)

// Outbound is the generic server-to-client event envelope. All coordinator
// emissions (lifecycle, probe, relay, liveness, admin) go through it.
type Outbound struct {
	id         string
	subjectID  model.SubjectID
	kind       Kind
	priority   Priority
	occurredAt int64
	payload    any

	encodeOnce sync.Once
	frame      []byte
	encodeErr  error
}

// [INTERFACE_IMPLEMENTATION]
func (e *Outbound) GetID() string                 { return e.id }
func (e *Outbound) GetKind() Kind                 { return e.kind }
func (e *Outbound) GetSubjectID() model.SubjectID { return e.subjectID }
func (e *Outbound) GetPriority() Priority         { return e.priority }
func (e *Outbound) GetOccurredAt() int64          { return e.occurredAt }
func (e *Outbound) GetPayload() any               { return e.payload }

// Frame returns the event's wire frame, running encode at most once. A room
// fan-out hands the same event to every recipient's write loop concurrently;
// the Once keeps that a single marshal with no write after publication.
func (e *Outbound) Frame(encode func() ([]byte, error)) ([]byte, error) {
	e.encodeOnce.Do(func() {
		e.frame, e.encodeErr = encode()
	})
	return e.frame, e.encodeErr
}

// NewOutbound builds an event for one subject with the kind's default
// priority class.
func NewOutbound(subject model.SubjectID, kind Kind, payload any) *Outbound {
	return &Outbound{
		id:         uuid.NewString(),
		subjectID:  subject,
		kind:       kind,
		priority:   PriorityOf(kind),
		occurredAt: time.Now().UnixMilli(),
		payload:    payload,
	}
}

// NewBroadcast builds an event without a subject binding, for room and
// broadcast targets where the hub resolves recipients itself.
func NewBroadcast(kind Kind, payload any) *Outbound {
	return NewOutbound("", kind, payload)
}
