// Package sender implements the transactional sender and batching pass
// (component I): outbound sends requested inside a DB transaction are
// buffered and only flushed to the channel layer on commit, with adjacent
// same-group sends coalesced into a single batch message.
package sender

import (
	"context"
	"sync"

	"github.com/relaylabs/envelope/internal/envelope"
	"github.com/relaylabs/envelope/internal/layer"
	"github.com/relaylabs/envelope/internal/message"
)

// GroupKey is the grouping key batching operates on (§4.9).
type GroupKey struct {
	Tag          string
	ChannelName  string
	EnvelopeKind envelope.Kind
	State        envelope.State
	Group        string
}

// DestinationKind distinguishes a direct send from a group fan-out.
type DestinationKind int

const (
	DestSingle DestinationKind = iota
	DestGroup
)

// Destination names where a buffered send ultimately goes on the layer.
type Destination struct {
	Kind DestinationKind
	Name string
}

type bufferedSend struct {
	key        GroupKey
	dest       Destination
	msg        message.Message
	meta       message.Meta
	allowBatch bool
}

// BatchFactory builds and extends the pluggable batch message shape
// (§4.9 "two batch message shapes... pluggable by configuration").
type BatchFactory interface {
	Start(meta message.Meta, first message.Message) (message.Message, error)
	Append(batch message.Message, next message.Message) error
}

// TransactionSender buffers sends across a single DB transaction. It is
// pure over its buffered state and is fully testable without a database;
// internal/storage's UnitOfWork is what actually ties Flush to a commit
// hook.
type TransactionSender struct {
	mu        sync.Mutex
	sends     []bufferedSend
	layer     layer.ChannelLayer
	transport envelope.Transport
	route     envelope.RoutingTag
	factory   BatchFactory
}

// New builds a TransactionSender over l, wrapping packed envelopes with
// transport and tagging them with route before handing them to the layer.
func New(l layer.ChannelLayer, transport envelope.Transport, route envelope.RoutingTag, factory BatchFactory) *TransactionSender {
	return &TransactionSender{layer: l, transport: transport, route: route, factory: factory}
}

// Add buffers one outbound send. Error messages always bypass batching —
// per §4.9 a transaction may not commit, so they are sent immediately
// rather than buffered.
func (s *TransactionSender) Add(ctx context.Context, dest Destination, msg message.Message, meta message.Meta, envKind envelope.Kind, allowBatch bool) error {
	if envKind == envelope.ErrorKind {
		return s.flushOne(ctx, dest, msg, meta, envKind)
	}

	key := GroupKey{
		Tag:          msg.Tag(),
		ChannelName:  meta.ConsumerName,
		EnvelopeKind: envKind,
		State:        meta.State,
		Group:        dest.Name,
	}
	s.mu.Lock()
	s.sends = append(s.sends, bufferedSend{key: key, dest: dest, msg: msg, meta: meta, allowBatch: allowBatch})
	s.mu.Unlock()
	return nil
}

// Flush groups buffered sends (adjacent runs sharing a group key of
// length ≥3, all batchable, collapse into one batch message) and delivers
// everything to the layer in order. It is the TransactionSender's
// UnitOfWork.OnCommit hook.
func (s *TransactionSender) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.sends
	s.sends = nil
	s.mu.Unlock()

	batched := s.batchMessages(pending)
	for _, item := range batched {
		if err := s.flushOne(ctx, item.dest, item.msg, item.meta, item.key.EnvelopeKind); err != nil {
			return err
		}
	}
	return nil
}

// batchMessages implements the grouping pass (§4.9 step 1-2): walk the
// list, collapse consecutive runs sharing a group key once the run is ≥3
// and every member allows batching.
func (s *TransactionSender) batchMessages(sends []bufferedSend) []bufferedSend {
	var out []bufferedSend
	i := 0
	for i < len(sends) {
		j := i + 1
		for j < len(sends) && sends[j].key == sends[i].key {
			j++
		}
		run := sends[i:j]
		if len(run) >= 3 && allBatchable(run) && s.factory != nil {
			if merged, ok := s.mergeRun(run); ok {
				out = append(out, merged)
				i = j
				continue
			}
		}
		out = append(out, run...)
		i = j
	}
	return out
}

func allBatchable(run []bufferedSend) bool {
	for _, r := range run {
		if !r.allowBatch {
			return false
		}
	}
	return true
}

func (s *TransactionSender) mergeRun(run []bufferedSend) (bufferedSend, bool) {
	batchMsg, err := s.factory.Start(run[0].meta, run[0].msg)
	if err != nil {
		return bufferedSend{}, false
	}
	for _, r := range run[1:] {
		if err := s.factory.Append(batchMsg, r.msg); err != nil {
			return bufferedSend{}, false
		}
	}
	merged := run[0]
	merged.msg = batchMsg
	return merged, true
}

func (s *TransactionSender) flushOne(ctx context.Context, dest Destination, msg message.Message, meta message.Meta, envKind envelope.Kind) error {
	env, err := envelope.Pack(msg, envKind, meta.ID, meta.State)
	if err != nil {
		return err
	}
	payload, err := s.transport.Wrap(env, s.route)
	if err != nil {
		return err
	}
	switch dest.Kind {
	case DestGroup:
		return s.layer.GroupSend(ctx, dest.Name, payload)
	default:
		return s.layer.Send(ctx, dest.Name, payload)
	}
}

// Pending reports the number of currently buffered (not yet flushed)
// sends. Exposed mainly for tests.
func (s *TransactionSender) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}
