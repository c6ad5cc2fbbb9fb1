// Package storage implements the persisted state this fabric owns: the
// Connection record (§3/§6) written only from workers, plus the
// UnitOfWork commit-hook emulation the transactional sender (component I)
// flushes through.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IsNotFound returns true if the error indicates a record was not found.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if err == pgx.ErrNoRows {
		return true
	}
	return strings.Contains(err.Error(), "not found")
}

// PostgresClient wraps a pgx connection pool and provides the Connection
// persistence this fabric's workers need, plus transaction begin for the
// UnitOfWork.
type PostgresClient struct {
	pool *pgxpool.Pool
}

// NewPostgresClient creates a new PostgreSQL client from the given DSN.
func NewPostgresClient(ctx context.Context, dsn string) (*PostgresClient, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

// Close releases all connections in the pool.
func (p *PostgresClient) Close() {
	p.pool.Close()
}

// Ping verifies connectivity to PostgreSQL.
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Begin starts a transaction for use with a UnitOfWork.
func (p *PostgresClient) Begin(ctx context.Context) (pgx.Tx, error) {
	return p.pool.Begin(ctx)
}

// --------------------------------------------------------------------------
// Connection (§3 persisted state, §6)
// --------------------------------------------------------------------------

// Connection is one row per (user_pk, channel_name). Invariants (§3):
// online=true implies offline_at is null or older than online_at;
// awol=true implies online=false; the (user_pk, channel_name) pair is
// unique.
type Connection struct {
	UserPK      int64
	ChannelName string
	Online      bool
	Awol        bool
	OnlineAt    time.Time
	OfflineAt   *time.Time
	LastAction  time.Time
}

// CreateConnection inserts the row created on consumer_connected
// (online=true, online_at=now). Writes only ever happen from workers
// (§5), never from a session's cooperative task.
func (p *PostgresClient) CreateConnection(ctx context.Context, userPK int64, channelName string) error {
	now := time.Now().UTC()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO connections (user_pk, channel_name, online, awol, online_at, offline_at, last_action)
		VALUES ($1, $2, true, false, $3, NULL, $3)
		ON CONFLICT (user_pk, channel_name) DO UPDATE
		SET online = true, awol = false, online_at = $3, offline_at = NULL, last_action = $3
	`, userPK, channelName, now)
	if err != nil {
		return fmt.Errorf("postgres: create connection: %w", err)
	}
	return nil
}

// CloseConnection updates the row on consumer_closed (online=false,
// offline_at=now).
func (p *PostgresClient) CloseConnection(ctx context.Context, userPK int64, channelName string) error {
	now := time.Now().UTC()
	tag, err := p.pool.Exec(ctx, `
		UPDATE connections
		SET online = false, offline_at = $1, last_action = $1
		WHERE user_pk = $2 AND channel_name = $3
	`, now, userPK, channelName)
	if err != nil {
		return fmt.Errorf("postgres: close connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: connection not found: user_pk=%d channel_name=%s", userPK, channelName)
	}
	return nil
}

// TouchLastAction updates last_action, the throttled heartbeat housekeeping
// job fires this when now − last_job exceeds the configured
// connection_update_interval.
func (p *PostgresClient) TouchLastAction(ctx context.Context, userPK int64, channelName string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE connections SET last_action = $1
		WHERE user_pk = $2 AND channel_name = $3
	`, time.Now().UTC(), userPK, channelName)
	if err != nil {
		return fmt.Errorf("postgres: touch last action: %w", err)
	}
	return nil
}

// MarkAwol flags a connection whose session vanished without a clean
// close (e.g. process crash) so housekeeping can distinguish it from a
// normal disconnect.
func (p *PostgresClient) MarkAwol(ctx context.Context, userPK int64, channelName string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE connections SET online = false, awol = true, offline_at = $1
		WHERE user_pk = $2 AND channel_name = $3
	`, time.Now().UTC(), userPK, channelName)
	if err != nil {
		return fmt.Errorf("postgres: mark awol: %w", err)
	}
	return nil
}

// GetConnection fetches a connection row by its unique key.
func (p *PostgresClient) GetConnection(ctx context.Context, userPK int64, channelName string) (*Connection, error) {
	var c Connection
	err := p.pool.QueryRow(ctx, `
		SELECT user_pk, channel_name, online, awol, online_at, offline_at, last_action
		FROM connections WHERE user_pk = $1 AND channel_name = $2
	`, userPK, channelName).Scan(
		&c.UserPK, &c.ChannelName, &c.Online, &c.Awol, &c.OnlineAt, &c.OfflineAt, &c.LastAction,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("postgres: connection not found: user_pk=%d channel_name=%s", userPK, channelName)
		}
		return nil, fmt.Errorf("postgres: get connection: %w", err)
	}
	return &c, nil
}

// ListOnlineForUser returns every currently-online connection for a user,
// used to fan an internal.msg out to all of a user's live sessions.
func (p *PostgresClient) ListOnlineForUser(ctx context.Context, userPK int64) ([]Connection, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT user_pk, channel_name, online, awol, online_at, offline_at, last_action
		FROM connections WHERE user_pk = $1 AND online = true
	`, userPK)
	if err != nil {
		return nil, fmt.Errorf("postgres: list online connections: %w", err)
	}
	defer rows.Close()

	var conns []Connection
	for rows.Next() {
		var c Connection
		if err := rows.Scan(&c.UserPK, &c.ChannelName, &c.Online, &c.Awol, &c.OnlineAt, &c.OfflineAt, &c.LastAction); err != nil {
			return nil, fmt.Errorf("postgres: scan connection: %w", err)
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}
