// Package layer implements the channel layer adapter (component E): the
// abstract send/group_send/group_add/group_discard contract, with two
// pluggable backends — an in-memory one for single-node deployments and
// tests, and a Redis-backed one for multi-node fan-out.
package layer

import (
	"context"
)

// Receiver is anything that can accept a layer payload — concretely, a
// consumer session's inbound delivery path.
type Receiver interface {
	Deliver(ctx context.Context, payload map[string]any)
}

// ChannelLayer is the abstract contract of component E. Implementations
// make no delivery guarantee beyond best-effort fan-out to currently
// joined members; duplicate delivery does not occur, but messages lost to
// broker failure are acceptable (§4.5).
type ChannelLayer interface {
	// Send delivers payload to exactly one channel (one consumer
	// session), if it is currently registered on some process.
	Send(ctx context.Context, channelName string, payload map[string]any) error
	// GroupSend fans payload out to every channel currently a member of
	// groupName.
	GroupSend(ctx context.Context, groupName string, payload map[string]any) error
	// GroupAdd joins channelName to groupName.
	GroupAdd(ctx context.Context, groupName, channelName string) error
	// GroupDiscard removes channelName from groupName.
	GroupDiscard(ctx context.Context, groupName, channelName string) error
	// Register binds a channel name to the Receiver that should handle
	// Send/GroupSend deliveries targeting it on this process. Consumer
	// sessions call this on accept and Unregister on close.
	Register(ctx context.Context, channelName string, r Receiver) error
	Unregister(ctx context.Context, channelName string)
}
