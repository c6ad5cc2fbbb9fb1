// Package channels wires the fabric's one built-in channel type: "user",
// a per-account self channel that every subscribe/recheck example in
// the spec is worked against (§8). Applications embedding the fabric
// register additional channel types the same way — by adding to the
// resolver function this package hands to jobs.NewWorkerEnv.
package channels

import (
	"context"
	"fmt"

	"github.com/relaylabs/envelope/internal/envelope"
	"github.com/relaylabs/envelope/internal/layer"
	"github.com/relaylabs/envelope/internal/pubsub"
)

const UserChannelType = "user"

// userContext is the trivial Context wrapper for a "user" channel: the
// entity is just the pk the channel is addressed to, since this fabric
// carries no user profile store of its own.
type userContext struct{ pk int64 }

func (u userContext) PK() int64 { return u.pk }

// selfOnly allows a subscription only when the requesting connection is
// authenticated as the user the channel is addressed to.
func selfOnly(userPK *int64, entity pubsub.Context) bool {
	return userPK != nil && *userPK == entity.PK()
}

// NewUserResolver builds a resolver for the "user" channel type. Resolve
// returns an error for any other channel type, which the subscription
// package turns into error.not_found.
func NewUserResolver(l layer.ChannelLayer, transport envelope.Transport) func(channelType string, pk int64) (*pubsub.ContextChannel, error) {
	return func(channelType string, pk int64) (*pubsub.ContextChannel, error) {
		if channelType != UserChannelType {
			return nil, fmt.Errorf("channels: unknown channel type %q", channelType)
		}
		loader := func(ctx context.Context, pk int64) (pubsub.Context, error) {
			return userContext{pk: pk}, nil
		}
		return pubsub.NewContext(channelType, pk, l, transport, loader, selfOnly), nil
	}
}
