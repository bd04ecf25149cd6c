package matchmaker

import (
	"sort"
	"sync"
	"time"

	"github.com/interactionlab/tandem/internal/domain/model"
)

// Entry is one queued participant. Seq fixes the insertion order; a
// requeue after a failed probe restores the entry to its original slot by
// reusing the seq it held.
type Entry struct {
	Subject    model.SubjectID
	Seq        uint64
	EnqueuedAt time.Time
}

// Rooms is the per-scene waitroom table. Queue order is authoritative for
// every FIFO tie-break, so all mutation goes through this one lock.
type Rooms struct {
	mu    sync.Mutex
	rooms map[model.SceneID]*waitRoom
}

type waitRoom struct {
	nextSeq uint64
	entries []Entry // kept sorted by Seq
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[model.SceneID]*waitRoom)}
}

// Enqueue appends the subject to the scene's queue and returns its
// position (0-based) and the new queue length.
func (r *Rooms) Enqueue(scene model.SceneID, subject model.SubjectID) (pos, size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.room(scene)
	room.entries = append(room.entries, Entry{
		Subject:    subject,
		Seq:        room.nextSeq,
		EnqueuedAt: time.Now(),
	})
	room.nextSeq++
	return len(room.entries) - 1, len(room.entries)
}

// Remove drops the subject from the scene's queue. The removed entry is
// returned so a failed probe can requeue it in place.
func (r *Rooms) Remove(scene model.SceneID, subject model.SubjectID) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[scene]
	if !ok {
		return Entry{}, false
	}
	for i, e := range room.entries {
		if e.Subject == subject {
			room.entries = append(room.entries[:i], room.entries[i+1:]...)
			return e, true
		}
	}
	return Entry{}, false
}

// RemoveMany drops every listed subject, returning the removed entries.
func (r *Rooms) RemoveMany(scene model.SceneID, subjects []model.SubjectID) []Entry {
	removed := make([]Entry, 0, len(subjects))
	for _, s := range subjects {
		if e, ok := r.Remove(scene, s); ok {
			removed = append(removed, e)
		}
	}
	return removed
}

// Requeue reinserts entries at their original queue positions. The merged
// queue is re-sorted by seq, so a candidate that waited longest is first
// in line again.
func (r *Rooms) Requeue(scene model.SceneID, entries []Entry) {
	if len(entries) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.room(scene)
	room.entries = append(room.entries, entries...)
	sort.Slice(room.entries, func(i, j int) bool {
		return room.entries[i].Seq < room.entries[j].Seq
	})
}

// RequeueTail reinserts entries at the back of the queue, behind everyone
// currently waiting. Used when requeue_to_tail is configured.
func (r *Rooms) RequeueTail(scene model.SceneID, entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.room(scene)
	for _, e := range entries {
		e.Seq = room.nextSeq
		room.nextSeq++
		e.EnqueuedAt = time.Now()
		room.entries = append(room.entries, e)
	}
}

// List snapshots the scene's queue in order.
func (r *Rooms) List(scene model.SceneID) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[scene]
	if !ok {
		return nil
	}
	return append([]Entry(nil), room.entries...)
}

// Len reports the scene's queue length.
func (r *Rooms) Len(scene model.SceneID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[scene]
	if !ok {
		return 0
	}
	return len(room.entries)
}

// Scenes lists every scene with a non-empty queue.
func (r *Rooms) Scenes() []model.SceneID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.SceneID, 0, len(r.rooms))
	for id, room := range r.rooms {
		if len(room.entries) > 0 {
			out = append(out, id)
		}
	}
	return out
}

// ExpiredBefore removes and returns entries enqueued before the cutoff,
// for the waitroom-timeout sweep.
func (r *Rooms) ExpiredBefore(scene model.SceneID, cutoff time.Time) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[scene]
	if !ok {
		return nil
	}
	var expired []Entry
	kept := room.entries[:0]
	for _, e := range room.entries {
		if e.EnqueuedAt.Before(cutoff) {
			expired = append(expired, e)
		} else {
			kept = append(kept, e)
		}
	}
	room.entries = kept
	return expired
}

func (r *Rooms) room(scene model.SceneID) *waitRoom {
	room, ok := r.rooms[scene]
	if !ok {
		room = &waitRoom{}
		r.rooms[scene] = room
	}
	return room
}
