package subscription

import (
	"github.com/relaylabs/envelope/internal/envelope"
	"github.com/relaylabs/envelope/internal/message"
	"github.com/relaylabs/envelope/internal/registry"
)

// Register adds the four subscription wire commands and their replies to
// the message catalog.
func Register(b *registry.Builder) {
	b.Register(registry.Descriptor{
		Tag: "channel.subscribe", Kind: registry.KindJob,
		New: func() message.Message { return &Subscribe{} },
	}, envelope.Incoming)

	b.Register(registry.Descriptor{
		Tag: "channel.subscribed", Kind: registry.KindRunnable,
		New: func() message.Message { return &Subscribed{} },
	}, envelope.Outgoing)

	b.Register(registry.Descriptor{
		Tag: "channel.leave", Kind: registry.KindRunnable,
		New: func() message.Message { return &Leave{} },
	}, envelope.Incoming)

	b.Register(registry.Descriptor{
		Tag: "channel.left", Kind: registry.KindRunnable,
		New: func() message.Message { return &Left{} },
	}, envelope.Outgoing)

	b.Register(registry.Descriptor{
		Tag: "channel.list_subscriptions", Kind: registry.KindRunnable,
		New: func() message.Message { return &ListSubscriptions{} },
	}, envelope.Incoming)

	b.Register(registry.Descriptor{
		Tag: "channel.subscriptions", Kind: registry.KindRunnable,
		New: func() message.Message { return &Subscriptions{} },
	}, envelope.Outgoing)

	b.Register(registry.Descriptor{
		Tag: "channel.recheck", Kind: registry.KindJob,
		New: func() message.Message { return &Recheck{} },
	}, envelope.Internal)
}
