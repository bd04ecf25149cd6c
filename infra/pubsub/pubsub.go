package pubsub

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/fx"
)

// New builds the in-process bus. The coordinator is single-process, so the
// observer pipeline rides on gochannel instead of a broker.
func New(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, logger)
}

var Module = fx.Module("pubsub",
	fx.Provide(
		New,
		func(ch *gochannel.GoChannel) message.Publisher { return ch },
		func(ch *gochannel.GoChannel) message.Subscriber { return ch },
	),
	fx.Invoke(func(lc fx.Lifecycle, ch *gochannel.GoChannel) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return ch.Close()
			},
		})
	}),
)
