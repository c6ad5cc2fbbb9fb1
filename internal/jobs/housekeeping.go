package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relaylabs/envelope/internal/bus"
	"github.com/relaylabs/envelope/internal/storage"
)

// Housekeeping wires Connection persistence (§3/§6, component L) to
// consumer lifecycle signals. These are "not message-bound" (§4.8): they
// run off the bus directly, never through the registry/dispatch path.
// If store is nil, housekeeping is skipped entirely — not an error.
type Housekeeping struct {
	store           *storage.PostgresClient
	updateInterval  time.Duration
	logger          *slog.Logger

	mu       sync.Mutex
	lastJob  map[string]time.Time
}

// NewHousekeeping builds the signal listeners. updateInterval is the
// connection_update_interval policy threshold (§3).
func NewHousekeeping(store *storage.PostgresClient, updateInterval time.Duration, logger *slog.Logger) *Housekeeping {
	return &Housekeeping{store: store, updateInterval: updateInterval, logger: logger, lastJob: make(map[string]time.Time)}
}

// Subscribe registers the housekeeping listeners on b. Each is blocking
// since it touches Postgres.
func (h *Housekeeping) Subscribe(b *bus.Bus) {
	if h.store == nil {
		return
	}
	b.Blocking(bus.ConsumerConnected, h.onConnected)
	b.Blocking(bus.ConsumerClosed, h.onClosed)
	b.Blocking(bus.IncomingWebsocketMessage, h.onIncoming)
}

func (h *Housekeeping) onConnected(ctx context.Context, ev bus.Event) {
	userPK := int64(0)
	if ev.UserPK != nil {
		userPK = *ev.UserPK
	}
	if err := h.store.CreateConnection(ctx, userPK, ev.ConsumerName); err != nil {
		h.logger.WarnContext(ctx, "housekeeping: create connection failed", "consumer", ev.ConsumerName, "error", err)
		return
	}
	h.bump(ev.ConsumerName)
}

func (h *Housekeeping) onClosed(ctx context.Context, ev bus.Event) {
	userPK := int64(0)
	if ev.UserPK != nil {
		userPK = *ev.UserPK
	}
	if err := h.store.CloseConnection(ctx, userPK, ev.ConsumerName); err != nil {
		h.logger.WarnContext(ctx, "housekeeping: close connection failed", "consumer", ev.ConsumerName, "error", err)
	}
	h.mu.Lock()
	delete(h.lastJob, ev.ConsumerName)
	h.mu.Unlock()
}

// onIncoming enqueues a throttled last_action update: only when
// now − last_job exceeds connection_update_interval.
func (h *Housekeeping) onIncoming(ctx context.Context, ev bus.Event) {
	if !h.due(ev.ConsumerName) {
		return
	}
	userPK := int64(0)
	if ev.UserPK != nil {
		userPK = *ev.UserPK
	}
	if err := h.store.TouchLastAction(ctx, userPK, ev.ConsumerName); err != nil {
		h.logger.WarnContext(ctx, "housekeeping: touch last action failed", "consumer", ev.ConsumerName, "error", err)
		return
	}
	h.bump(ev.ConsumerName)
}

func (h *Housekeeping) due(consumerName string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	last, ok := h.lastJob[consumerName]
	if !ok {
		return true
	}
	return time.Since(last) > h.updateInterval
}

func (h *Housekeeping) bump(consumerName string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastJob[consumerName] = time.Now()
}
