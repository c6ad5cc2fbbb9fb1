package subscription

import (
	"time"

	"github.com/relaylabs/envelope/internal/message"
)

// Subscribe is the incoming `channel.subscribe` deferred job.
type Subscribe struct {
	message.Base
	ChannelType string `json:"channel_type"`
	PK          int64  `json:"pk"`
}

func (*Subscribe) Tag() string                { return "channel.subscribe" }
func (*Subscribe) TTL() time.Duration         { return 30 * time.Second }
func (*Subscribe) JobTimeout() time.Duration  { return 10 * time.Second }
func (*Subscribe) AllowBatch() bool           { return false }
func (*Subscribe) Atomic() bool               { return true }

// Subscribed is the outgoing reply to channel.subscribe, sent once with
// s=queued (from PreQueue) and again with s=success plus app_state (from
// RunJob) once the subscription is established.
type Subscribed struct {
	message.Base
	ChannelType string          `json:"channel_type"`
	PK          int64           `json:"pk"`
	ChannelName string          `json:"channel_name"`
	AppState    []AppStateEntry `json:"app_state,omitempty"`
}

func (*Subscribed) Tag() string { return "channel.subscribed" }

// Leave is the incoming `channel.leave` runnable — no permission check,
// a session may always leave its own subscriptions.
type Leave struct {
	message.Base
	ChannelType string `json:"channel_type"`
	PK          int64  `json:"pk"`
}

func (*Leave) Tag() string { return "channel.leave" }

// Left is the outgoing reply to channel.leave, and also what a
// channel.recheck job sends per revoked subscription.
type Left struct {
	message.Base
	ChannelType string `json:"channel_type"`
	PK          int64  `json:"pk"`
}

func (*Left) Tag() string { return "channel.left" }

// ListSubscriptions is the incoming `channel.list_subscriptions` runnable.
type ListSubscriptions struct {
	message.Base
}

func (*ListSubscriptions) Tag() string { return "channel.list_subscriptions" }

// Subscriptions is the outgoing reply listing the session's current set.
type Subscriptions struct {
	message.Base
	Subscriptions []Entry `json:"subscriptions"`
}

func (*Subscriptions) Tag() string { return "channel.subscriptions" }

// Recheck is the internal-only `channel.recheck` deferred job sent by
// the server when a user's permissions change. Subscriptions is the
// snapshot of the originating session's current set at the time the
// recheck was triggered — internal messages construct it directly, it
// never arrives over the wire.
type Recheck struct {
	message.Base
	Subscriptions []Entry `json:"subscriptions"`
}

func (*Recheck) Tag() string               { return "channel.recheck" }
func (*Recheck) TTL() time.Duration        { return 30 * time.Second }
func (*Recheck) JobTimeout() time.Duration { return 15 * time.Second }
func (*Recheck) AllowBatch() bool          { return false }
func (*Recheck) Atomic() bool              { return true }
