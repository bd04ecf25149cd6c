package matchmaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interactionlab/tandem/internal/domain/model"
)

func subjects(entries []Entry) []model.SubjectID {
	out := make([]model.SubjectID, len(entries))
	for i, e := range entries {
		out[i] = e.Subject
	}
	return out
}

func TestRoomsPreserveInsertionOrder(t *testing.T) {
	r := NewRooms()
	pos, size := r.Enqueue("S", "a")
	assert.Equal(t, 0, pos)
	assert.Equal(t, 1, size)
	pos, size = r.Enqueue("S", "b")
	assert.Equal(t, 1, pos)
	assert.Equal(t, 2, size)
	r.Enqueue("S", "c")

	assert.Equal(t, []model.SubjectID{"a", "b", "c"}, subjects(r.List("S")))
	assert.Equal(t, 3, r.Len("S"))
	assert.Equal(t, 0, r.Len("other"))
}

func TestRequeueRestoresOriginalPositions(t *testing.T) {
	r := NewRooms()
	r.Enqueue("S", "a")
	r.Enqueue("S", "b")
	r.Enqueue("S", "c")

	// a and c leave for a probe that fails; b keeps waiting, d arrives.
	removed := r.RemoveMany("S", []model.SubjectID{"a", "c"})
	require.Len(t, removed, 2)
	r.Enqueue("S", "d")

	r.Requeue("S", removed)
	assert.Equal(t, []model.SubjectID{"a", "b", "c", "d"}, subjects(r.List("S")),
		"requeued entries reclaim their original slots")
}

func TestRequeueTailGoesBehindEveryone(t *testing.T) {
	r := NewRooms()
	r.Enqueue("S", "a")
	r.Enqueue("S", "b")

	removed := r.RemoveMany("S", []model.SubjectID{"a"})
	r.Enqueue("S", "c")
	r.RequeueTail("S", removed)

	assert.Equal(t, []model.SubjectID{"b", "c", "a"}, subjects(r.List("S")))
}

func TestRemoveMissingSubject(t *testing.T) {
	r := NewRooms()
	r.Enqueue("S", "a")
	_, ok := r.Remove("S", "ghost")
	assert.False(t, ok)
	_, ok = r.Remove("empty-scene", "a")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len("S"))
}

func TestExpiredBefore(t *testing.T) {
	r := NewRooms()
	r.Enqueue("S", "old")
	time.Sleep(5 * time.Millisecond)
	cutoff := time.Now()
	r.Enqueue("S", "fresh")

	expired := r.ExpiredBefore("S", cutoff)
	require.Len(t, expired, 1)
	assert.Equal(t, model.SubjectID("old"), expired[0].Subject)
	assert.Equal(t, []model.SubjectID{"fresh"}, subjects(r.List("S")))

	assert.Empty(t, r.ExpiredBefore("S", cutoff))
}

func TestScenesListsNonEmptyRooms(t *testing.T) {
	r := NewRooms()
	r.Enqueue("S1", "a")
	r.Enqueue("S2", "b")
	r.Remove("S2", "b")

	scenes := r.Scenes()
	assert.Equal(t, []model.SceneID{"S1"}, scenes)
}
