package messages

import (
	"github.com/relaylabs/envelope/internal/envelope"
	"github.com/relaylabs/envelope/internal/message"
	"github.com/relaylabs/envelope/internal/registry"
)

// Register populates b with the built-in message catalog (§6): ping/pong,
// the structured error family, and the common progress/status/batch
// messages. Called once at startup before the builder is frozen.
func Register(b *registry.Builder) {
	b.Register(registry.Descriptor{
		Tag:  "s.ping",
		Kind: registry.KindRunnable,
		New:  func() message.Message { return &Ping{} },
	}, envelope.Incoming, envelope.Internal)

	b.Register(registry.Descriptor{
		Tag:  "s.pong",
		Kind: registry.KindRunnable,
		New:  func() message.Message { return &Pong{} },
	}, envelope.Outgoing)

	b.Register(registry.Descriptor{
		Tag:        "progress.num",
		Kind:       registry.KindRunnable,
		AllowBatch: true,
		New:        func() message.Message { return &Progress{} },
	}, envelope.Outgoing)

	b.Register(registry.Descriptor{
		Tag:  "s.stat",
		Kind: registry.KindRunnable,
		New:  func() message.Message { return &Stat{} },
	}, envelope.Outgoing)

	b.Register(registry.Descriptor{
		Tag:  "s.batch",
		Kind: registry.KindRunnable,
		New:  func() message.Message { return &Batch{} },
	}, envelope.Outgoing)

	registerError(b, "error.generic", func() message.Message { return &GenericError{} })
	registerError(b, "error.validation", func() message.Message { return &ValidationError{} })
	registerError(b, "error.msg_type", func() message.Message { return &MessageTypeError{} })
	registerError(b, "error.bad_request", func() message.Message { return &BadRequestError{} })
	registerError(b, "error.not_found", func() message.Message { return &NotFoundError{} })
	registerError(b, "error.unauthorized", func() message.Message { return &UnauthorizedError{} })
	registerError(b, "error.subscribe", func() message.Message { return &SubscribeError{} })
	registerError(b, "error.job", func() message.Message { return &JobError{} })
}

func registerError(b *registry.Builder, tag string, new func() message.Message) {
	b.Register(registry.Descriptor{
		Tag:  tag,
		Kind: registry.KindError,
		New:  new,
	}, envelope.ErrorKind)
}
