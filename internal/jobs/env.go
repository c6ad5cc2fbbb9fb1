package jobs

import (
	"context"
	"log/slog"
	"sync"

	"github.com/relaylabs/envelope/internal/archive"
	"github.com/relaylabs/envelope/internal/bus"
	"github.com/relaylabs/envelope/internal/envelope"
	"github.com/relaylabs/envelope/internal/layer"
	"github.com/relaylabs/envelope/internal/message"
	"github.com/relaylabs/envelope/internal/pubsub"
	"github.com/relaylabs/envelope/internal/subscription"
)

// archiveAdapter narrows archive.Store to subscription.ArchiveStore,
// treating a nil store (archive not configured) as "archiving is a
// no-op" rather than making every RunJob implementation nil-check it.
type archiveAdapter struct {
	store *archive.Store
}

func (a archiveAdapter) Put(ctx context.Context, channelName, entryKey string, data []byte) (string, error) {
	if a.store == nil {
		return "", nil
	}
	return a.store.Put(ctx, channelName, entryKey, data)
}

// WorkerEnv is the concrete message.JobEnv every RunJob implementation
// executes with. It also satisfies subscription.JobContext so the
// subscription package's jobs can reach the channel layer, resolver and
// archive without this package depending on subscription's internals.
type WorkerEnv struct {
	mu sync.Mutex

	layer       layer.ChannelLayer
	transport   envelope.Transport
	route       envelope.RoutingTag
	bus         *bus.Bus
	resolver    subscription.ChannelResolver
	archive     archiveAdapter
	inlineLimit int
	maxEntries  int
	logger      *slog.Logger

	current message.Meta
}

// NewWorkerEnv builds the shared worker environment. A nil logger falls
// back to slog.Default() so tests that don't care about log output don't
// have to construct one.
func NewWorkerEnv(l layer.ChannelLayer, transport envelope.Transport, route envelope.RoutingTag, b *bus.Bus, resolver subscription.ChannelResolver, store *archive.Store, inlineLimit, maxEntries int, logger *slog.Logger) *WorkerEnv {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerEnv{
		layer:       l,
		transport:   transport,
		route:       route,
		bus:         b,
		resolver:    resolver,
		archive:     archiveAdapter{store: store},
		inlineLimit: inlineLimit,
		maxEntries:  maxEntries,
		logger:      logger,
	}
}

// setCurrent stamps the meta of the job about to run. The worker
// processes one job at a time per consumer goroutine, so this is safe
// without per-call threading of meta through every interface method.
func (e *WorkerEnv) setCurrent(m message.Meta) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = m
}

func (e *WorkerEnv) Meta() message.Meta {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *WorkerEnv) UserPK() *int64 {
	return e.Meta().UserPK
}

func (e *WorkerEnv) Layer() layer.ChannelLayer { return e.layer }

func (e *WorkerEnv) Resolver() subscription.ChannelResolver { return e.resolver }

func (e *WorkerEnv) AppStateConfig() (int, int) { return e.inlineLimit, e.maxEntries }

func (e *WorkerEnv) Archive() subscription.ArchiveStore {
	if e.archive.store == nil {
		return nil
	}
	return e.archive
}

func (e *WorkerEnv) Logger() *slog.Logger { return e.logger }

// FireChannelSubscribed fires the channel_subscribed signal so
// application-registered listeners can append entries to collector.
func (e *WorkerEnv) FireChannelSubscribed(ctx context.Context, entry subscription.Entry, collector *subscription.AppState) {
	e.bus.Fire(ctx, bus.Event{
		Signal:  bus.ChannelSubscribed,
		Tag:     entry.ChannelName(),
		Context: entry,
		AppState: collector,
	})
}

// Deliver packs msg as an outgoing envelope and sends it directly to
// consumerName's channel.
func (e *WorkerEnv) Deliver(ctx context.Context, consumerName string, msg message.Message) error {
	env, err := envelope.Pack(msg, envelope.Outgoing, msg.Meta().ID, msg.Meta().State)
	if err != nil {
		return err
	}
	payload, err := e.transport.Wrap(env, e.route)
	if err != nil {
		return err
	}
	return e.layer.Send(ctx, consumerName, payload)
}

var _ subscription.JobContext = (*WorkerEnv)(nil)

// ChannelResolverFunc adapts a plain function to subscription.ChannelResolver.
type ChannelResolverFunc func(channelType string, pk int64) (*pubsub.ContextChannel, error)

func (f ChannelResolverFunc) Resolve(channelType string, pk int64) (*pubsub.ContextChannel, error) {
	return f(channelType, pk)
}
