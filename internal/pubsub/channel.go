// Package pubsub implements the two channel subclasses over the layer
// (component F): PubSubChannel, a bare named group, and ContextChannel,
// a permission-gated channel bound to a domain entity.
package pubsub

import (
	"context"
	"fmt"

	"github.com/relaylabs/envelope/internal/envelope"
	"github.com/relaylabs/envelope/internal/layer"
	"github.com/relaylabs/envelope/internal/message"
	"github.com/relaylabs/envelope/internal/sender"
)

// Session is the subset of message.Session a channel needs to add/remove
// group membership.
type Session interface {
	message.Session
}

// PubSubChannel is identified by a globally unique channel_name, the
// group name on the channel layer. Pub/sub channels are joined only via
// server-side signals (e.g. on connect) — never by the subscribe
// command, which targets ContextChannel only.
type PubSubChannel struct {
	ChannelName string
	Layer       layer.ChannelLayer
	Transport   envelope.Transport
	Kind        envelope.Kind // default envelope.Outgoing
	Route       envelope.RoutingTag
	Sender      *sender.TransactionSender // optional, required for SyncPublish(onCommit=true)
}

// New builds a PubSubChannel defaulting Kind to envelope.Outgoing and
// Route to envelope.RouteWebsocketSend when left zero-valued.
func New(channelName string, l layer.ChannelLayer, transport envelope.Transport) *PubSubChannel {
	return &PubSubChannel{
		ChannelName: channelName,
		Layer:       l,
		Transport:   transport,
		Kind:        envelope.Outgoing,
		Route:       envelope.RouteWebsocketSend,
	}
}

// Subscribe adds the session's channel_name to this channel's group.
func (c *PubSubChannel) Subscribe(ctx context.Context, s Session) error {
	return c.Layer.GroupAdd(ctx, c.ChannelName, s.ChannelName())
}

// Leave removes the session's channel_name from this channel's group.
func (c *PubSubChannel) Leave(ctx context.Context, s Session) error {
	return c.Layer.GroupDiscard(ctx, c.ChannelName, s.ChannelName())
}

// Publish packs msg through the configured envelope kind and sends it to
// every current member of the group immediately.
func (c *PubSubChannel) Publish(ctx context.Context, msg message.Message, meta message.Meta) error {
	env, err := envelope.Pack(msg, c.Kind, meta.ID, meta.State)
	if err != nil {
		return err
	}
	payload, err := c.Transport.Wrap(env, c.Route)
	if err != nil {
		return err
	}
	return c.Layer.GroupSend(ctx, c.ChannelName, payload)
}

// SyncPublish enqueues the send into the current transaction (flushed on
// commit, §4.9) when onCommit is true and a TransactionSender is wired;
// otherwise it behaves like Publish and sends immediately.
func (c *PubSubChannel) SyncPublish(ctx context.Context, msg message.Message, meta message.Meta, onCommit bool, allowBatch bool) error {
	if !onCommit || c.Sender == nil {
		return c.Publish(ctx, msg, meta)
	}
	dest := sender.Destination{Kind: sender.DestGroup, Name: c.ChannelName}
	return c.Sender.Add(ctx, dest, msg, meta, c.Kind, allowBatch)
}

// Context is the domain entity a ContextChannel is bound to.
type Context interface {
	PK() int64
}

// ContextLoader fetches a Context by primary key, used by ContextChannel
// to resolve `context` lazily. A lookup miss returns a nil Context and a
// non-nil error — the subscription protocol converts any loader error
// into error.not_found.
type ContextLoader func(ctx context.Context, pk int64) (Context, error)

// AllowSubscribe is the permission policy for a ContextChannel. A nil
// policy means "allow any authenticated user" (§4.6).
type AllowSubscribe func(userPK *int64, entity Context) bool

// ContextChannel is a PubSubChannel parameterized by a (kind, pk) tuple
// identifying a domain entity; channel_name is deterministically derived
// as "<kind>_<pk>".
type ContextChannel struct {
	*PubSubChannel
	ChannelType string
	PK          int64
	loader      ContextLoader
	allow       AllowSubscribe
	context     Context
}

// NewContext builds a ContextChannel; channelType and pk determine the
// derived channel_name.
func NewContext(channelType string, pk int64, l layer.ChannelLayer, transport envelope.Transport, loader ContextLoader, allow AllowSubscribe) *ContextChannel {
	name := fmt.Sprintf("%s_%d", channelType, pk)
	return &ContextChannel{
		PubSubChannel: New(name, l, transport),
		ChannelType:   channelType,
		PK:            pk,
		loader:        loader,
		allow:         allow,
	}
}

// Context loads (and caches) the entity this channel is bound to.
func (c *ContextChannel) Context(ctx context.Context) (Context, error) {
	if c.context != nil {
		return c.context, nil
	}
	entity, err := c.loader(ctx, c.PK)
	if err != nil {
		return nil, err
	}
	c.context = entity
	return entity, nil
}

// FromInstance constructs and caches context from an already-loaded
// entity, skipping the loader round-trip.
func (c *ContextChannel) FromInstance(entity Context) {
	c.context = entity
}

// AllowSubscribe reports whether userPK may subscribe to this channel. A
// nil policy defaults to "allow any authenticated user".
func (c *ContextChannel) AllowSubscribe(userPK *int64, entity Context) bool {
	if c.allow == nil {
		return userPK != nil
	}
	return c.allow(userPK, entity)
}
