package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/interactionlab/tandem/internal/adapter/pubsub"
	"github.com/interactionlab/tandem/internal/admin"
	"github.com/interactionlab/tandem/internal/audit"
	"github.com/interactionlab/tandem/internal/domain/event"
	"github.com/interactionlab/tandem/internal/notify"
)

// PoisonTopic collects messages that exhausted their retries.
const PoisonTopic = "tandem.observer.poison"

// Observer wires the bus consumers: the admin read model, the audit sink
// and the completion webhook. Everything here is downstream of the
// lifecycle; a slow or failing consumer never stalls a session.
type Observer struct {
	logger     *slog.Logger
	aggregator *admin.Aggregator
	sink       *audit.Sink
	webhook    *notify.Webhook
	dispatcher pubsub.EventDispatcher
}

func NewObserver(
	logger *slog.Logger,
	aggregator *admin.Aggregator,
	sink *audit.Sink,
	webhook *notify.Webhook,
	dispatcher pubsub.EventDispatcher,
) *Observer {
	return &Observer{
		logger:     logger.With(slog.String("component", "observer")),
		aggregator: aggregator,
		sink:       sink,
		webhook:    webhook,
		dispatcher: dispatcher,
	}
}

func NewRouter(wmLogger watermill.LoggerAdapter) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{}, wmLogger)
}

// RegisterHandlers attaches every consumer to the router, table-driven.
// One handler per (consumer, topic): the gochannel transport fans a topic
// out to each subscription, so admin, audit and webhook consume the same
// lifecycle events independently.
func (o *Observer) RegisterHandlers(router *message.Router, sub message.Subscriber) error {
	poison, err := middleware.PoisonQueue(o.dispatcher.Publisher(), PoisonTopic)
	if err != nil {
		return fmt.Errorf("poison queue setup: %w", err)
	}

	router.AddMiddleware(
		middleware.Recoverer,
		LoggingMiddleware(o.logger),
		NewRetryMiddleware().Middleware,
		poison,
		middleware.Timeout(10*time.Second),
	)

	configs := []struct {
		name    string
		topic   string
		handler message.NoPublishHandlerFunc
	}{
		{"ADMIN_ON_MATCHED", event.TopicSessionMatched,
			Bind(o.logger, func(_ context.Context, ev *event.SessionMatchedEvent) error {
				o.aggregator.OnSessionMatched(*ev)
				return nil
			})},
		{"ADMIN_ON_STARTED", event.TopicSessionStarted,
			Bind(o.logger, func(_ context.Context, ev *event.SessionStartedEvent) error {
				o.aggregator.OnSessionStarted(*ev)
				return nil
			})},
		{"ADMIN_ON_ENDED", event.TopicSessionEnded,
			Bind(o.logger, func(_ context.Context, ev *event.SessionEndedEvent) error {
				o.aggregator.OnSessionEnded(*ev)
				return nil
			})},
		{"ADMIN_ON_PROBE", event.TopicProbeFinished,
			Bind(o.logger, func(_ context.Context, ev *event.ProbeFinishedEvent) error {
				o.aggregator.OnProbeFinished(*ev)
				return nil
			})},
		{"ADMIN_ON_WAITROOM", event.TopicWaitroomChanged,
			Bind(o.logger, func(_ context.Context, ev *event.WaitroomChangedEvent) error {
				o.aggregator.OnWaitroomChanged(*ev)
				return nil
			})},
		{"ADMIN_ON_HEALTH", event.TopicHealthReported,
			Bind(o.logger, func(_ context.Context, ev *event.HealthReportedEvent) error {
				o.aggregator.OnHealthReported(*ev)
				return nil
			})},
		{"ADMIN_ON_DISCONNECT", event.TopicParticipantDisconnected,
			Bind(o.logger, func(_ context.Context, ev *event.ParticipantDisconnectedEvent) error {
				o.aggregator.OnParticipantDisconnected(*ev)
				return nil
			})},
		{"ADMIN_ON_CONSOLE", event.TopicConsoleError,
			Bind(o.logger, func(_ context.Context, ev *event.ConsoleErrorEvent) error {
				o.aggregator.OnConsoleError(*ev)
				return nil
			})},
		{"AUDIT_ARM_WINDOW", event.TopicSessionEnded,
			Bind(o.logger, func(_ context.Context, ev *event.SessionEndedEvent) error {
				o.sink.Arm(*ev)
				return nil
			})},
		{"AUDIT_MATCH_LOG", event.TopicSessionStarted,
			Bind(o.logger, func(_ context.Context, ev *event.SessionStartedEvent) error {
				o.sink.OnSessionStarted(*ev)
				return nil
			})},
		{"WEBHOOK_ON_ENDED", event.TopicSessionEnded,
			Bind(o.logger, func(ctx context.Context, ev *event.SessionEndedEvent) error {
				o.webhook.NotifySessionEnded(ctx, *ev)
				return nil
			})},
	}

	for _, c := range configs {
		router.AddConsumerHandler(c.name, c.topic, sub, c.handler)
	}

	o.logger.Info("observer pipeline registered", slog.Int("consumers", len(configs)))
	return nil
}
