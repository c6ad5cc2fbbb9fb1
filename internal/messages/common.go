package messages

import (
	"encoding/json"
	"fmt"

	"github.com/relaylabs/envelope/internal/message"
)

// Progress carries a single integer progress counter for a long-running
// job.
type Progress struct {
	message.Base
	Num int `json:"num"`
}

func (*Progress) Tag() string { return "progress.num" }

func NewProgress(meta message.Meta, num int) *Progress {
	p := &Progress{Num: num}
	p.SetMeta(meta)
	return p
}

// Stat is a heartbeat-style status ping with no payload, supplementing the
// distilled catalog from the original implementation's Status message.
type Stat struct {
	message.Base
}

func (*Stat) Tag() string { return "s.stat" }

func NewStat(meta message.Meta) *Stat {
	s := &Stat{}
	s.SetMeta(meta)
	return s
}

// Batch collapses ≥3 consecutive same-group, batchable sends (§4.9) into a
// single outgoing message carrying the inner type tag and the ordered
// list of inner payloads — the "payload-list" batch shape.
type Batch struct {
	message.Base
	InnerType string            `json:"t"`
	Payloads  []json.RawMessage `json:"payloads"`
}

func (*Batch) Tag() string { return "s.batch" }

// StartBatch seeds a Batch from the first message of a group.
func StartBatch(meta message.Meta, first message.Message) (*Batch, error) {
	raw, err := json.Marshal(first)
	if err != nil {
		return nil, fmt.Errorf("messages: start batch: %w", err)
	}
	b := &Batch{InnerType: first.Tag(), Payloads: []json.RawMessage{raw}}
	b.SetMeta(meta)
	return b, nil
}

// Append adds another message to the batch. It returns an error if the
// message's tag doesn't match the batch's inner type — batches are
// homogeneous.
func (b *Batch) Append(msg message.Message) error {
	if msg.Tag() != b.InnerType {
		return fmt.Errorf("messages: batch type mismatch: batch is %q, got %q", b.InnerType, msg.Tag())
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("messages: append to batch: %w", err)
	}
	b.Payloads = append(b.Payloads, raw)
	return nil
}
