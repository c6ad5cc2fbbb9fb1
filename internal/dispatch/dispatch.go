// Package dispatch implements the dispatcher (component C): given a
// decoded message and its owning session, it decides whether to run the
// message in-line or hand it to the deferred job queue, and fires the
// lifecycle signals application code and telemetry subscribe to.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaylabs/envelope/internal/bus"
	"github.com/relaylabs/envelope/internal/message"
	"github.com/relaylabs/envelope/internal/messages"
)

// JobQueue is the narrow enqueue contract the dispatcher needs from the
// deferred job pipeline (component H); internal/jobs implements it.
type JobQueue interface {
	Enqueue(ctx context.Context, tag string, payload json.RawMessage, meta message.Meta, enqueuedAt time.Time) error
}

// Dispatcher classifies decoded messages and routes them.
type Dispatcher struct {
	bus    *bus.Bus
	queue  JobQueue
	logger *slog.Logger
}

// New builds a Dispatcher wired to the shared event bus and job queue.
func New(b *bus.Bus, q JobQueue, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{bus: b, queue: q, logger: logger}
}

// Dispatch handles one decoded incoming message. Ordering: the caller
// (the consumer's read pump) must invoke Dispatch strictly in the order
// frames were received for a given session; Dispatch itself does not
// reorder.
func (d *Dispatcher) Dispatch(ctx context.Context, s message.Session, msg message.Message) {
	d.bus.Fire(ctx, bus.Event{
		Signal:       bus.IncomingWebsocketMessage,
		ConsumerName: s.ChannelName(),
		UserPK:       s.UserPK(),
		Tag:          msg.Tag(),
	})

	switch v := msg.(type) {
	case message.Job:
		d.dispatchJob(ctx, s, v)
	case message.Runnable:
		d.dispatchRunnable(ctx, s, v)
	default:
		d.logger.WarnContext(ctx, "dispatch: message is neither Runnable nor Job", "tag", msg.Tag())
		d.replyError(ctx, s, messages.NewBadRequestError(msg.Meta(), fmt.Sprintf("message %q has no handler", msg.Tag())))
	}
}

func (d *Dispatcher) dispatchRunnable(ctx context.Context, s message.Session, v message.Runnable) {
	reply, err := v.Run(ctx, s)
	if err != nil {
		d.replyError(ctx, s, asErrorMessage(v.Meta(), err))
		return
	}
	if reply != nil {
		d.sendReply(ctx, s, reply)
	}
}

func (d *Dispatcher) dispatchJob(ctx context.Context, s message.Session, v message.Job) {
	ack, err := v.PreQueue(ctx, s)
	if err != nil {
		d.replyError(ctx, s, asErrorMessage(v.Meta(), err))
		return
	}
	if ack != nil {
		d.sendReply(ctx, s, ack)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		d.replyError(ctx, s, messages.NewGenericError(v.Meta(), "failed to encode job payload"))
		return
	}

	if err := d.queue.Enqueue(ctx, v.Tag(), raw, v.Meta(), time.Now()); err != nil {
		d.logger.ErrorContext(ctx, "dispatch: enqueue failed", "tag", v.Tag(), "error", err)
		d.replyError(ctx, s, messages.NewGenericError(v.Meta(), "failed to enqueue job"))
	}
}

func (d *Dispatcher) sendReply(ctx context.Context, s message.Session, reply message.Message) {
	if err := s.SendMessage(ctx, reply); err != nil {
		d.logger.WarnContext(ctx, "dispatch: send reply failed", "tag", reply.Tag(), "error", err)
		return
	}
	d.bus.Fire(ctx, bus.Event{
		Signal:       bus.OutgoingWebsocketMessage,
		ConsumerName: s.ChannelName(),
		UserPK:       s.UserPK(),
		Tag:          reply.Tag(),
	})
}

func (d *Dispatcher) replyError(ctx context.Context, s message.Session, em message.ErrorMessage) {
	if err := s.SendError(ctx, em); err != nil {
		d.logger.WarnContext(ctx, "dispatch: send error reply failed", "tag", em.Tag(), "error", err)
		return
	}
	d.bus.Fire(ctx, bus.Event{
		Signal:       bus.OutgoingWebsocketError,
		ConsumerName: s.ChannelName(),
		UserPK:       s.UserPK(),
		Tag:          em.Tag(),
	})
}

// asErrorMessage converts a handler's plain error return into a legal
// error reply, backfilling meta from the source message when the error
// isn't already an ErrorMessage — this is the explicit-return replacement
// for the source's "raise an error message" discipline (§7, §9).
func asErrorMessage(meta message.Meta, err error) message.ErrorMessage {
	if em, ok := err.(message.ErrorMessage); ok {
		if em.Meta().ID == "" {
			em.SetMeta(meta)
		}
		return em
	}
	return messages.NewGenericError(meta, err.Error())
}
