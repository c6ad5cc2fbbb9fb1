// Package registry holds the process-wide message catalog (component B):
// a frozen, read-only mapping from (envelope kind, wire tag) to a message
// descriptor, built once at startup per §9's "explicit, ordered startup
// phase" design note.
package registry

import (
	"fmt"
	"time"

	"github.com/relaylabs/envelope/internal/envelope"
	"github.com/relaylabs/envelope/internal/message"
)

// HandlerKind is the explicit kind tag §9 calls for in place of multiple
// inheritance / isinstance checks.
type HandlerKind int

const (
	KindRunnable HandlerKind = iota
	KindJob
	KindError
)

// Descriptor is one registered message type.
type Descriptor struct {
	Tag        string
	Kind       HandlerKind
	AllowBatch bool
	New        func() message.Message
}

type key struct {
	kind envelope.Kind
	tag  string
}

// Builder accumulates descriptors during startup. It is not safe for
// concurrent use; all registration happens on one goroutine before the
// Catalog is frozen.
type Builder struct {
	entries map[key]Descriptor
}

// NewBuilder returns an empty registration builder.
func NewBuilder() *Builder {
	return &Builder{entries: make(map[key]Descriptor)}
}

// Register adds a descriptor under one or more envelope kinds. A tag must
// be unique within a kind; registering the same (kind, tag) twice panics,
// since this only ever happens at startup and indicates a programming
// error, not a runtime condition to recover from.
func (b *Builder) Register(d Descriptor, kinds ...envelope.Kind) {
	for _, k := range kinds {
		ck := key{kind: k, tag: d.Tag}
		if _, exists := b.entries[ck]; exists {
			panic(fmt.Sprintf("registry: duplicate registration for tag %q in kind %s", d.Tag, k))
		}
		b.entries[ck] = d
	}
}

// Freeze produces an immutable Catalog. After this call the Builder should
// be discarded; the Catalog is the only handle passed around thereafter.
func (b *Builder) Freeze() *Catalog {
	frozen := make(map[key]Descriptor, len(b.entries))
	for k, v := range b.entries {
		frozen[k] = v
	}
	return &Catalog{entries: frozen}
}

// Catalog is the frozen, concurrency-safe message registry. Every method
// is read-only; no locking is required because the map is never mutated
// after Freeze.
type Catalog struct {
	entries map[key]Descriptor
}

// Lookup resolves a wire tag within an envelope kind. ok is false when the
// tag is unknown for that kind — the caller (consumer/dispatcher) is
// expected to produce an error.msg_type reply, not treat this as a crash.
func (c *Catalog) Lookup(k envelope.Kind, tag string) (Descriptor, bool) {
	d, ok := c.entries[key{kind: k, tag: tag}]
	return d, ok
}

// New constructs a zero-value message instance for a registered tag.
func (c *Catalog) New(k envelope.Kind, tag string) (message.Message, bool) {
	d, ok := c.Lookup(k, tag)
	if !ok {
		return nil, false
	}
	return d.New(), true
}

// JobTags lists every distinct wire tag registered under KindJob, across
// all envelope kinds it was registered for. A worker process consumes
// one durable queue per tag returned here.
func (c *Catalog) JobTags() []string {
	seen := make(map[string]struct{})
	var tags []string
	for k, d := range c.entries {
		if d.Kind != KindJob {
			continue
		}
		if _, ok := seen[k.tag]; ok {
			continue
		}
		seen[k.tag] = struct{}{}
		tags = append(tags, k.tag)
	}
	return tags
}

// JobTimeoutFor returns the execution-timeout duration a job tag declared
// via its JobTimeout() method, so a worker can give each tag's durable
// consumer its own ack-wait instead of one global default. ok is false for
// a tag that isn't registered under KindJob.
func (c *Catalog) JobTimeoutFor(tag string) (d time.Duration, ok bool) {
	for k, desc := range c.entries {
		if desc.Kind != KindJob || k.tag != tag {
			continue
		}
		if job, isJob := desc.New().(message.Job); isJob {
			return job.JobTimeout(), true
		}
	}
	return 0, false
}
