package sender

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/relaylabs/envelope/internal/message"
	"github.com/relaylabs/envelope/internal/messages"
)

// PayloadListFactory produces the `{t, payloads:[...]}` batch shape —
// the default, grounded on messages.Batch.
type PayloadListFactory struct{}

func (PayloadListFactory) Start(meta message.Meta, first message.Message) (message.Message, error) {
	return messages.StartBatch(meta, first)
}

func (PayloadListFactory) Append(batch message.Message, next message.Message) error {
	b, ok := batch.(*messages.Batch)
	if !ok {
		return fmt.Errorf("sender: batch factory: not a payload-list batch")
	}
	return b.Append(next)
}

// TabularBatch is the `{t, common, keys, values:[[...]]}` shape: fields
// whose value is identical across every row are hoisted into `common`;
// the remaining fields become `keys` with one `values` row per message.
type TabularBatch struct {
	message.Base
	InnerType string           `json:"t"`
	Common    map[string]any   `json:"common"`
	Keys      []string         `json:"keys"`
	Values    [][]any          `json:"values"`
	rows      []map[string]any
}

func (*TabularBatch) Tag() string { return "s.batch" }

func decodePayload(msg message.Message) (map[string]any, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if string(raw) == "null" {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// TabularFactory builds TabularBatch messages.
type TabularFactory struct{}

func (TabularFactory) Start(meta message.Meta, first message.Message) (message.Message, error) {
	row, err := decodePayload(first)
	if err != nil {
		return nil, err
	}
	b := &TabularBatch{InnerType: first.Tag(), rows: []map[string]any{row}}
	b.SetMeta(meta)
	b.recompute()
	return b, nil
}

func (TabularFactory) Append(batch message.Message, next message.Message) error {
	b, ok := batch.(*TabularBatch)
	if !ok {
		return fmt.Errorf("sender: batch factory: not a tabular batch")
	}
	if next.Tag() != b.InnerType {
		return fmt.Errorf("sender: tabular batch type mismatch: batch is %q, got %q", b.InnerType, next.Tag())
	}
	row, err := decodePayload(next)
	if err != nil {
		return err
	}
	b.rows = append(b.rows, row)
	b.recompute()
	return nil
}

// recompute rebuilds Common/Keys/Values from the accumulated rows. Keys
// are ordered by the first row they appear in, alphabetically within that
// row, for deterministic output.
func (b *TabularBatch) recompute() {
	common := make(map[string]any)
	varying := make(map[string]struct{})
	var order []string

	if len(b.rows) > 0 {
		for k, v := range b.rows[0] {
			common[k] = v
		}
	}
	for _, row := range b.rows[1:] {
		for k, v := range common {
			rv, ok := row[k]
			if !ok || !equalJSON(rv, v) {
				delete(common, k)
			}
		}
	}
	for _, row := range b.rows {
		rowKeys := make([]string, 0, len(row))
		for k := range row {
			rowKeys = append(rowKeys, k)
		}
		sort.Strings(rowKeys)
		for _, k := range rowKeys {
			if _, isCommon := common[k]; isCommon {
				continue
			}
			if _, seen := varying[k]; !seen {
				varying[k] = struct{}{}
				order = append(order, k)
			}
		}
	}

	b.Common = common
	b.Keys = order
	values := make([][]any, 0, len(b.rows))
	for _, row := range b.rows {
		vals := make([]any, len(order))
		for i, k := range order {
			vals[i] = row[k]
		}
		values = append(values, vals)
	}
	b.Values = values
}

func equalJSON(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(ab) == string(bb)
}
