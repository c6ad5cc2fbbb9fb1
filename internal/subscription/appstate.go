package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// AppStateEntry is one {t, p} pair of the AppState vector attached to a
// Subscribed reply (§3/§4.7). An entry whose encoded payload exceeds the
// configured inline limit is archived and p becomes a reference record
// instead of the raw payload (SPEC_FULL §3 payload overflow policy).
type AppStateEntry struct {
	T string          `json:"t"`
	P json.RawMessage `json:"p"`
}

type archiveRef struct {
	Archived bool   `json:"archived"`
	Ref      string `json:"ref"`
	Size     int    `json:"size"`
}

// AppState accumulates entries produced by channel_subscribed listeners
// during one subscribe job. Entries over inlineLimit bytes are archived;
// the collector stops accepting new entries once maxEntries is reached
// (subsequent appends are dropped with a Warn log, matching the layer's
// best-effort delivery posture elsewhere in the fabric).
type AppState struct {
	ctx         context.Context
	channelName string
	inlineLimit int
	maxEntries  int
	archive     ArchiveStore
	logger      *slog.Logger
	entries     []AppStateEntry
	seq         int
}

// NewAppState builds a collector bound to one subscribe job's channel. A
// nil logger falls back to slog.Default().
func NewAppState(ctx context.Context, channelName string, inlineLimit, maxEntries int, archive ArchiveStore, logger *slog.Logger) *AppState {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppState{
		ctx:         ctx,
		channelName: channelName,
		inlineLimit: inlineLimit,
		maxEntries:  maxEntries,
		archive:     archive,
		logger:      logger,
	}
}

// Append adds one entry, archiving its payload if it's too large to
// inline. Returns an error only if the payload cannot be encoded or
// archived; an entry dropped past maxEntries is not an error.
func (a *AppState) Append(t string, payload any) error {
	if len(a.entries) >= a.maxEntries {
		a.logger.WarnContext(a.ctx, "subscription: appstate entry dropped, max entries reached",
			"channel_name", a.channelName, "entry_type", t, "max_entries", a.maxEntries)
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("subscription: appstate marshal %q: %w", t, err)
	}

	if len(raw) <= a.inlineLimit || a.archive == nil {
		a.entries = append(a.entries, AppStateEntry{T: t, P: raw})
		return nil
	}

	a.seq++
	entryKey := fmt.Sprintf("%s-%d", t, a.seq)
	ref, err := a.archive.Put(a.ctx, a.channelName, entryKey, raw)
	if err != nil {
		return fmt.Errorf("subscription: archive appstate entry %q: %w", t, err)
	}
	a.logger.InfoContext(a.ctx, "subscription: appstate entry archived",
		"channel_name", a.channelName, "entry_type", t, "ref", ref, "size", len(raw))

	refPayload, err := json.Marshal(archiveRef{Archived: true, Ref: ref, Size: len(raw)})
	if err != nil {
		return err
	}
	a.entries = append(a.entries, AppStateEntry{T: t, P: refPayload})
	return nil
}

// Entries returns the accumulated vector in append order.
func (a *AppState) Entries() []AppStateEntry {
	return a.entries
}

// Empty reports whether no entries were collected.
func (a *AppState) Empty() bool {
	return len(a.entries) == 0
}
