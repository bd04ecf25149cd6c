package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interactionlab/tandem/config"
	adapterpubsub "github.com/interactionlab/tandem/internal/adapter/pubsub"
	"github.com/interactionlab/tandem/internal/admin"
	"github.com/interactionlab/tandem/internal/audit"
	"github.com/interactionlab/tandem/internal/domain/event"
	"github.com/interactionlab/tandem/internal/domain/model"
	"github.com/interactionlab/tandem/internal/domain/state"
	"github.com/interactionlab/tandem/internal/notify"
)

func startObserver(t *testing.T) (*admin.Aggregator, *audit.Sink, adapterpubsub.EventDispatcher) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wmLogger := watermill.NopLogger{}

	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wmLogger)
	t.Cleanup(func() { ch.Close() })
	dispatcher := adapterpubsub.NewEventDispatcher(ch)

	cfg := &config.Config{Admin: config.Admin{
		ThrottleMs: 1, WarningRTTMs: 200, ConsoleRingSize: 5,
	}}
	aggregator := admin.New(logger, cfg, noopHub{}, nil)

	writer := audit.NewWriter(t.TempDir(), "exp1")
	sink, err := audit.NewSink(logger, writer, dispatcher, time.Hour)
	require.NoError(t, err)
	t.Cleanup(sink.Close)

	webhook := notify.NewWebhook(logger, "", time.Second)

	router, err := NewRouter(wmLogger)
	require.NoError(t, err)
	o := NewObserver(logger, aggregator, sink, webhook, dispatcher)
	require.NoError(t, o.RegisterHandlers(router, ch))

	go func() { _ = router.Run(context.Background()) }()
	<-router.Running()
	t.Cleanup(func() { router.Close() })

	return aggregator, sink, dispatcher
}

type noopHub struct{}

func (noopHub) EmitToConn(model.ConnectionID, event.Eventer) bool { return true }
func (noopHub) EmitToSubject(model.SubjectID, event.Eventer) bool { return true }
func (noopHub) EmitToRoom(string, event.Eventer) int              { return 0 }
func (noopHub) Broadcast(event.Eventer) int                       { return 0 }
func (noopHub) JoinRoom(string, model.ConnectionID)               {}
func (noopHub) LeaveRoom(string, model.ConnectionID)              {}
func (noopHub) DropRoom(string)                                   {}
func (noopHub) IsConnected(model.SubjectID) bool                  { return false }
func (noopHub) ConnIDOf(model.SubjectID) (model.ConnectionID, bool) {
	return "", false
}
func (noopHub) CloseSubject(model.SubjectID) {}

func TestObserverFansTopicsToConsumers(t *testing.T) {
	aggregator, sink, dispatcher := startObserver(t)
	ctx := context.Background()

	require.NoError(t, dispatcher.Publish(ctx, event.TopicSessionMatched, event.SessionMatchedEvent{
		SessionID:    "s1",
		SceneID:      "maze",
		Participants: []model.SubjectID{"a", "b"},
		Matchmaker:   "fifo",
	}))
	require.NoError(t, dispatcher.Publish(ctx, event.TopicSessionEnded, event.SessionEndedEvent{
		SessionID:       "s1",
		Reason:          state.ReasonNormal,
		ExpectedExports: []model.SubjectID{"a", "b"},
	}))

	// The ended event reaches both the admin rollup and the audit sink.
	require.Eventually(t, func() bool {
		return aggregator.Rollup().EndedSessions == 1 && sink.Pending() == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap, ok := aggregator.Session("s1")
	require.True(t, ok)
	assert.Equal(t, "ended", snap.State)
}

func TestObserverSurvivesUndecodablePayload(t *testing.T) {
	aggregator, _, dispatcher := startObserver(t)
	ctx := context.Background()

	// A payload that does not decode as SessionMatchedEvent is dropped.
	require.NoError(t, dispatcher.Publish(ctx, event.TopicSessionMatched, "just a string"))

	require.NoError(t, dispatcher.Publish(ctx, event.TopicSessionMatched, event.SessionMatchedEvent{
		SessionID: "s2", SceneID: "maze",
	}))
	require.Eventually(t, func() bool {
		_, ok := aggregator.Session("s2")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestObserverConsoleErrorsReachRings(t *testing.T) {
	aggregator, _, dispatcher := startObserver(t)

	require.NoError(t, dispatcher.Publish(context.Background(), event.TopicConsoleError,
		event.ConsoleErrorEvent{SubjectID: "a", Level: "error", Message: "ReferenceError"}))

	require.Eventually(t, func() bool {
		return len(aggregator.ConsoleLog("a")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
