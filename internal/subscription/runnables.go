package subscription

import (
	"context"

	"github.com/relaylabs/envelope/internal/envelope"
	"github.com/relaylabs/envelope/internal/message"
)

// Run removes the subscription both from the session's local set and
// from the channel layer's group membership — no permission check,
// users may always leave their own subscriptions (§4.7).
func (l *Leave) Run(ctx context.Context, s message.Session) (message.Message, error) {
	sc, err := asSessionContext(s)
	if err != nil {
		return nil, err
	}

	entry := Entry{ChannelType: l.ChannelType, PK: l.PK}
	if err := sc.Layer().GroupDiscard(ctx, entry.ChannelName(), sc.ChannelName()); err != nil {
		return nil, err
	}
	sc.RemoveSubscription(entry)

	left := &Left{ChannelType: l.ChannelType, PK: l.PK}
	left.SetMeta(message.Meta{ID: l.Meta().ID, State: envelope.StateSuccess})
	return left, nil
}

// Run returns the session's current subscription set.
func (ls *ListSubscriptions) Run(ctx context.Context, s message.Session) (message.Message, error) {
	sc, err := asSessionContext(s)
	if err != nil {
		return nil, err
	}

	reply := &Subscriptions{Subscriptions: sc.Subscriptions()}
	reply.SetMeta(message.Meta{ID: ls.Meta().ID, State: envelope.StateSuccess})
	return reply, nil
}
