// Package subscription implements the subscription protocol (component
// G): the four channel.* wire commands, the session-side subscription
// set they keep in sync, and the AppState collector used to bootstrap a
// client on subscribe.
package subscription

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relaylabs/envelope/internal/layer"
	"github.com/relaylabs/envelope/internal/message"
	"github.com/relaylabs/envelope/internal/messages"
	"github.com/relaylabs/envelope/internal/pubsub"
)

// Entry is a frozen (channel_type, pk) subscription record (§3).
type Entry struct {
	ChannelType string `json:"channel_type"`
	PK          int64  `json:"pk"`
}

// ChannelName derives the group name a subscription maps to on the
// channel layer, matching pubsub.ContextChannel's derivation.
func (e Entry) ChannelName() string {
	return fmt.Sprintf("%s_%d", e.ChannelType, e.PK)
}

// ChannelResolver builds the ContextChannel for a given channel type,
// wiring its loader and allow_subscribe policy. Each channel type the
// application exposes registers one.
type ChannelResolver interface {
	Resolve(channelType string, pk int64) (*pubsub.ContextChannel, error)
}

// SessionContext is the richer capability a Session must offer to
// handle subscribe/leave in-process: its local subscription set and the
// channel layer it joins groups on. consumer.Session implements this.
type SessionContext interface {
	message.Session
	Subscriptions() []Entry
	AddSubscription(Entry)
	RemoveSubscription(Entry)
	Layer() layer.ChannelLayer
}

// JobContext is the richer capability a JobEnv must offer to run the
// subscribe/recheck deferred jobs: the channel layer, a direct Deliver to
// reply through, the bus to fire channel_subscribed on, and a
// ChannelResolver. jobs.WorkerEnv implements this.
type JobContext interface {
	message.JobEnv
	Layer() layer.ChannelLayer
	Resolver() ChannelResolver
	FireChannelSubscribed(ctx context.Context, entry Entry, collector *AppState)
	AppStateConfig() (inlineLimit int, maxEntries int)
	Archive() ArchiveStore
	Logger() *slog.Logger
	// Deliver packs msg as an outgoing envelope and sends it directly to
	// consumerName's channel, bypassing the single-reply-value path — used
	// by channel.recheck, which may produce several channel.left replies.
	Deliver(ctx context.Context, consumerName string, msg message.Message) error
}

// ArchiveStore is the narrow capability subscription needs from
// internal/archive to offload oversized AppState entries.
type ArchiveStore interface {
	Put(ctx context.Context, channelName, entryKey string, data []byte) (ref string, err error)
}

func asJobContext(env message.JobEnv) (JobContext, error) {
	jc, ok := env.(JobContext)
	if !ok {
		return nil, fmt.Errorf("subscription: worker env does not implement subscription.JobContext")
	}
	return jc, nil
}

func asSessionContext(s message.Session) (SessionContext, error) {
	sc, ok := s.(SessionContext)
	if !ok {
		return nil, fmt.Errorf("subscription: session does not implement subscription.SessionContext")
	}
	return sc, nil
}

// notFound builds the error.not_found reply for a failed context lookup.
func notFound(meta message.Meta, model string, pk int64) message.ErrorMessage {
	return messages.NewNotFoundError(meta, model, "pk", fmt.Sprintf("%d", pk))
}
