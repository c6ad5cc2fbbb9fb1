// Package message defines the decoded-message contract: every concrete
// message type in this fabric embeds Base and implements Message, plus
// whichever of Runnable / Job / ErrorMessage describes how it is handled.
package message

import (
	"context"
	"time"

	"github.com/relaylabs/envelope/internal/envelope"
)

// Meta is MessageMeta (§3): never placed on the wire, carried alongside a
// decoded message to stamp replies and thread context into workers.
type Meta struct {
	ID           string
	UserPK       *int64
	ConsumerName string
	Language     string
	State        envelope.State
	Kind         envelope.Kind
}

// EnvelopeData derives the reply envelope fields from this meta, matching
// the source's MessageMeta.envelope_data() helper.
func (m Meta) EnvelopeData() (id string, state envelope.State) {
	return m.ID, m.State
}

// Message is the minimal contract every registered message type satisfies:
// a stable wire tag plus the Meta it was decoded (or stamped) with.
type Message interface {
	Tag() string
	Meta() Meta
	SetMeta(Meta)
}

// Base is embedded by every concrete message type. Its field is
// unexported so it never appears in the JSON payload produced by
// envelope.Pack, which marshals the concrete struct directly.
type Base struct {
	meta Meta
}

func (b *Base) Meta() Meta      { return b.meta }
func (b *Base) SetMeta(m Meta)  { b.meta = m }

// Session is the narrow slice of a consumer session that message handlers
// are allowed to touch: sending replies and reading read-only session
// state. The consumer package provides the concrete implementation; this
// interface lives here to avoid an import cycle (consumer depends on
// message, not the reverse).
type Session interface {
	ChannelName() string
	UserPK() *int64
	Language() string
	SendMessage(ctx context.Context, msg Message) error
	SendError(ctx context.Context, err ErrorMessage) error
}

// Runnable is a message handled in-process, on the session's own
// cooperative task (component C, case 1). Run must not block on I/O beyond
// the session's layer and is expected to finish in bounded time; it
// returns an optional reply (nil is legal — not every runnable replies)
// or an ErrorMessage.
type Runnable interface {
	Message
	Run(ctx context.Context, s Session) (Message, error)
}

// Job is a message handled by a worker, inside its own DB transaction
// (component C, case 2 / component H).
type Job interface {
	Message
	TTL() time.Duration
	JobTimeout() time.Duration
	// Atomic reports whether RunJob must execute inside a transaction.
	Atomic() bool
	// AllowBatch mirrors the source's allow_batch flag, consulted by the
	// transactional sender (component I) when grouping replies.
	AllowBatch() bool
	// PreQueue runs cooperatively before the job is handed to the
	// broker; it may return an interim reply (e.g. an s=queued ack).
	PreQueue(ctx context.Context, s Session) (Message, error)
	// RunJob executes on a worker. env gives access to the worker-side
	// collaborators (DB, layer, channel registry) without a direct
	// dependency from this package on those packages.
	RunJob(ctx context.Context, env JobEnv) (Message, error)
}

// JobEnv is the worker-side environment RunJob executes with.
type JobEnv interface {
	Meta() Meta
	UserPK() *int64
}

// ErrorMessage satisfies Go's error interface so it composes with the
// standard library at handler boundaries, per §9's error-as-exception
// note: raising one is replaced here by returning it as the error value.
type ErrorMessage interface {
	Message
	error
}
