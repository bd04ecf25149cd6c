package transport

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interactionlab/tandem/internal/domain/event"
)

func TestEncodeFrameRoundTrips(t *testing.T) {
	ev := event.NewOutbound("s", event.PlayerAction, map[string]int{"frame": 7})

	frame, err := EncodeFrame(ev)
	require.NoError(t, err)

	env, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, "player_action", env.Event)

	var body map[string]int
	require.NoError(t, json.Unmarshal(env.Payload, &body))
	assert.Equal(t, 7, body["frame"])
}

// A room fan-out hands one event to every member's write loop, so EncodeFrame
// must be safe and stable when called from all of them at once.
func TestEncodeFrameConcurrentFanout(t *testing.T) {
	ev := event.NewOutbound("", event.StateUpdate, map[string]int{"episode": 3})

	const writers = 8
	frames := make([][]byte, writers)
	errs := make([]error, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			frames[i], errs[i] = EncodeFrame(ev)
		}(i)
	}
	wg.Wait()

	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, frames[0], frames[i], "every write loop sees the same bytes")
	}
}

func TestDecodeFrameRejectsMissingEvent(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"payload":{}}`))
	assert.Error(t, err)

	_, err = DecodeFrame([]byte(`not json`))
	assert.Error(t, err)
}
