package subscription

import (
	"context"
	"fmt"

	"github.com/relaylabs/envelope/internal/envelope"
	"github.com/relaylabs/envelope/internal/message"
	"github.com/relaylabs/envelope/internal/messages"
)

// PreQueue sends the interim s=queued ack cooperatively, before the job
// is handed to the broker (§4.7, §4.8).
func (sub *Subscribe) PreQueue(ctx context.Context, s message.Session) (message.Message, error) {
	ack := &Subscribed{
		ChannelType: sub.ChannelType,
		PK:          sub.PK,
		ChannelName: Entry{ChannelType: sub.ChannelType, PK: sub.PK}.ChannelName(),
	}
	ack.SetMeta(message.Meta{ID: sub.Meta().ID, State: envelope.StateQueued})
	return ack, nil
}

// RunJob checks allow_subscribe, joins the layer group, collects
// app_state via the channel_subscribed signal, and replies s=success.
// A denied subscription replies error.subscribe (§8 scenario 5) instead
// of joining anything.
func (sub *Subscribe) RunJob(ctx context.Context, env message.JobEnv) (message.Message, error) {
	jc, err := asJobContext(env)
	if err != nil {
		return nil, err
	}

	entry := Entry{ChannelType: sub.ChannelType, PK: sub.PK}
	meta := sub.Meta()

	ch, err := jc.Resolver().Resolve(sub.ChannelType, sub.PK)
	if err != nil {
		return nil, notFound(meta, sub.ChannelType, sub.PK)
	}

	ctxEntity, err := ch.Context(ctx)
	if err != nil {
		return nil, notFound(meta, sub.ChannelType, sub.PK)
	}

	if !ch.AllowSubscribe(env.UserPK(), ctxEntity) {
		return nil, messages.NewSubscribeError(meta, entry.ChannelName())
	}

	if err := jc.Layer().GroupAdd(ctx, entry.ChannelName(), meta.ConsumerName); err != nil {
		return nil, fmt.Errorf("subscription: join group %q: %w", entry.ChannelName(), err)
	}

	inlineLimit, maxEntries := jc.AppStateConfig()
	collector := NewAppState(ctx, entry.ChannelName(), inlineLimit, maxEntries, jc.Archive(), jc.Logger())
	jc.FireChannelSubscribed(ctx, entry, collector)

	reply := &Subscribed{
		ChannelType: sub.ChannelType,
		PK:          sub.PK,
		ChannelName: entry.ChannelName(),
	}
	if !collector.Empty() {
		reply.AppState = collector.Entries()
	}
	reply.SetMeta(message.Meta{ID: meta.ID, ConsumerName: meta.ConsumerName, State: envelope.StateSuccess})
	return reply, nil
}

// RunJob walks r.Subscriptions and leaves every context channel whose
// allow_subscribe now returns false, delivering one channel.left per
// revoked entry directly (§4.7) — RunJob's single return value can only
// carry one reply, but recheck may produce several.
func (r *Recheck) RunJob(ctx context.Context, env message.JobEnv) (message.Message, error) {
	jc, err := asJobContext(env)
	if err != nil {
		return nil, err
	}

	meta := r.Meta()
	for _, entry := range r.Subscriptions {
		ch, err := jc.Resolver().Resolve(entry.ChannelType, entry.PK)
		if err != nil {
			continue
		}
		ctxEntity, err := ch.Context(ctx)
		if err != nil {
			continue
		}
		if ch.AllowSubscribe(env.UserPK(), ctxEntity) {
			continue
		}

		if err := jc.Layer().GroupDiscard(ctx, entry.ChannelName(), meta.ConsumerName); err != nil {
			continue
		}
		left := &Left{ChannelType: entry.ChannelType, PK: entry.PK}
		left.SetMeta(message.Meta{ConsumerName: meta.ConsumerName, State: envelope.StateSuccess})
		if err := jc.Deliver(ctx, meta.ConsumerName, left); err != nil {
			continue
		}
	}
	return nil, nil
}
