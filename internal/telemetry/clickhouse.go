// Package telemetry implements the lifecycle signal sink (component O):
// a bus.Blocking listener on every signal that batch-inserts a row per
// event into ClickHouse. It is best-effort — a write failure is logged
// and dropped, never propagated back to the signal that fired it.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/relaylabs/envelope/internal/bus"
)

// Client wraps a ClickHouse connection used only for lifecycle telemetry.
type Client struct {
	conn   driver.Conn
	logger *slog.Logger
}

// New creates a ClickHouse client from the given DSN, e.g.
// "clickhouse://localhost:9000/envelope".
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Client, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("telemetry: parse dsn: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("telemetry: ping: %w", err)
	}

	return &Client{conn: conn, logger: logger}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Ping verifies connectivity to ClickHouse.
func (c *Client) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// record is one row of the lifecycle_events table (§3).
type record struct {
	event        string
	consumerName string
	userPK       *int64
	tag          string
	at           time.Time
}

// insert writes a single lifecycle event. ClickHouse batches are built per
// insert here since events arrive one at a time off the bus; a busier
// deployment would accumulate and flush on a ticker instead.
func (c *Client) insert(ctx context.Context, r record) error {
	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO lifecycle_events (event, consumer_name, user_pk, tag, at)
	`)
	if err != nil {
		return fmt.Errorf("telemetry: prepare batch: %w", err)
	}

	var userPK int64
	if r.userPK != nil {
		userPK = *r.userPK
	}
	if err := batch.Append(r.event, r.consumerName, userPK, r.tag, r.at); err != nil {
		return fmt.Errorf("telemetry: append: %w", err)
	}
	return batch.Send()
}

// Subscribe registers the sink as a blocking listener on every signal
// (§4.11). Blocking is required: telemetry inserts must not run on the
// goroutine that fired the signal (the session's cooperative task), but
// they also must never be dropped for being merely cooperative.
func Subscribe(b *bus.Bus, c *Client, logger *slog.Logger) {
	signals := []bus.Signal{
		bus.ConsumerConnected,
		bus.ConsumerClosed,
		bus.IncomingWebsocketMessage,
		bus.OutgoingWebsocketMessage,
		bus.OutgoingWebsocketError,
		bus.IncomingInternalMessage,
		bus.ChannelSubscribed,
		bus.ConnectionCreated,
		bus.ConnectionClosed,
	}
	for _, sig := range signals {
		b.Blocking(sig, func(ctx context.Context, ev bus.Event) {
			err := c.insert(ctx, record{
				event:        string(ev.Signal),
				consumerName: ev.ConsumerName,
				userPK:       ev.UserPK,
				tag:          ev.Tag,
				at:           time.Now().UTC(),
			})
			if err != nil {
				logger.Warn("telemetry: dropping lifecycle event", "signal", ev.Signal, "error", err)
			}
		})
	}
}
