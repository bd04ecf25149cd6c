package admin

import (
	"github.com/interactionlab/tandem/internal/domain/event"
	"github.com/interactionlab/tandem/internal/domain/model"
)

// consoleRing keeps the last N console errors for one participant. The
// participant table itself is LRU-bounded, so an experiment with thousands
// of one-off subjects cannot grow the read model without bound.
type consoleRing struct {
	entries []event.ConsoleErrorEvent
	next    int
	full    bool
}

func newConsoleRing(size int) *consoleRing {
	if size < 1 {
		size = 1
	}
	return &consoleRing{entries: make([]event.ConsoleErrorEvent, size)}
}

func (c *consoleRing) add(ev event.ConsoleErrorEvent) {
	c.entries[c.next] = ev
	c.next = (c.next + 1) % len(c.entries)
	if c.next == 0 {
		c.full = true
	}
}

// list returns the retained errors oldest first.
func (c *consoleRing) list() []event.ConsoleErrorEvent {
	if !c.full {
		return append([]event.ConsoleErrorEvent(nil), c.entries[:c.next]...)
	}
	out := make([]event.ConsoleErrorEvent, 0, len(c.entries))
	out = append(out, c.entries[c.next:]...)
	out = append(out, c.entries[:c.next]...)
	return out
}

// OnConsoleError folds one forwarded client console error into the
// participant's ring.
func (a *Aggregator) OnConsoleError(ev event.ConsoleErrorEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ring, ok := a.console.Get(ev.SubjectID)
	if !ok {
		ring = newConsoleRing(a.ringSize)
		a.console.Add(ev.SubjectID, ring)
	}
	ring.add(ev)
}

// ConsoleLog returns the participant's retained console errors, oldest
// first.
func (a *Aggregator) ConsoleLog(subject model.SubjectID) []event.ConsoleErrorEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ring, ok := a.console.Peek(subject); ok {
		return ring.list()
	}
	return nil
}
