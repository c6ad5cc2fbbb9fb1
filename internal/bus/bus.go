// Package bus consolidates the source's mixed sync/async signal system
// (§9 design note "Signal graph") into one event bus. Cooperative
// listeners run inline on the firing goroutine; blocking listeners are
// dispatched to a worker pool so a slow subscriber (e.g. the telemetry
// sink) can never stall a session task or a worker.
package bus

import (
	"context"
	"log/slog"
)

// Signal names the nine observable events listed in §6.
type Signal string

const (
	ConsumerConnected        Signal = "consumer_connected"
	ConsumerClosed           Signal = "consumer_closed"
	IncomingWebsocketMessage Signal = "incoming_websocket_message"
	OutgoingWebsocketMessage Signal = "outgoing_websocket_message"
	OutgoingWebsocketError   Signal = "outgoing_websocket_error"
	IncomingInternalMessage  Signal = "incoming_internal_message"
	ChannelSubscribed        Signal = "channel_subscribed"
	ConnectionCreated        Signal = "connection_created"
	ConnectionClosed         Signal = "connection_closed"
)

// Event is the payload passed to every listener of a signal. Fields are
// populated as relevant to the firing signal; listeners must tolerate
// zero values for fields their signal doesn't use.
type Event struct {
	Signal       Signal
	ConsumerName string
	UserPK       *int64
	Tag          string
	CloseCode    int
	Context      any // the domain entity for channel_subscribed, if any
	AppState     any // the *subscription.AppState collector for channel_subscribed
}

// Listener receives a fired event. Cooperative listeners run on the
// firing goroutine and must return quickly; blocking listeners are run on
// the bus's worker pool and may take as long as they need.
type Listener func(ctx context.Context, ev Event)

type subscriber struct {
	fn       Listener
	blocking bool
}

// Bus is the consolidated dispatcher; Fire may be called from many
// goroutines at once. Listeners are registered once at startup (like the
// registry catalog): Cooperative and Blocking do not lock, so they must
// not run concurrently with Fire.
type Bus struct {
	logger *slog.Logger
	subs   map[Signal][]subscriber
	work   chan func()
	done   chan struct{}
}

// New creates a Bus and starts workers blocking-listener dispatch pool.
func New(logger *slog.Logger, workers int) *Bus {
	if workers < 1 {
		workers = 1
	}
	b := &Bus{
		logger: logger,
		subs:   make(map[Signal][]subscriber),
		work:   make(chan func(), 256),
		done:   make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go b.runWorker()
	}
	return b
}

func (b *Bus) runWorker() {
	for {
		select {
		case fn := <-b.work:
			fn()
		case <-b.done:
			return
		}
	}
}

// Close stops the blocking-listener worker pool. Work still queued when
// the workers stop is not run. Fire calls after Close still run
// cooperative listeners synchronously; their blocking dispatches are
// queued (or dropped once the queue is full) and never run.
func (b *Bus) Close() {
	close(b.done)
}

// Cooperative registers a listener that runs inline on the firing
// goroutine. It must not block on I/O.
func (b *Bus) Cooperative(sig Signal, fn Listener) {
	b.subs[sig] = append(b.subs[sig], subscriber{fn: fn, blocking: false})
}

// Blocking registers a listener dispatched to the worker pool. Per §5,
// blocking listeners must only ever be reached from signals fired on
// workers, not on a session's cooperative task — callers are responsible
// for only firing worker-sourced signals (e.g. connection housekeeping,
// telemetry) where a blocking listener is attached.
func (b *Bus) Blocking(sig Signal, fn Listener) {
	b.subs[sig] = append(b.subs[sig], subscriber{fn: fn, blocking: true})
}

// Fire dispatches ev to every subscriber of ev.Signal. Cooperative
// listeners run synchronously, in registration order, before Fire
// returns; blocking listeners are enqueued and Fire does not wait for
// them.
func (b *Bus) Fire(ctx context.Context, ev Event) {
	for _, sub := range b.subs[ev.Signal] {
		if !sub.blocking {
			sub.fn(ctx, ev)
			continue
		}
		fn := sub.fn
		select {
		case b.work <- func() { fn(ctx, ev) }:
		default:
			b.logger.WarnContext(ctx, "bus: worker pool saturated, dropping blocking listener dispatch",
				"signal", ev.Signal, "consumer_name", ev.ConsumerName)
		}
	}
}
