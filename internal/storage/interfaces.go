package storage

import "context"

// ConnectionStore is the persistence contract for Connection rows
// (§3/§6), satisfied by PostgresClient.
type ConnectionStore interface {
	Ping(ctx context.Context) error
	CreateConnection(ctx context.Context, userPK int64, channelName string) error
	CloseConnection(ctx context.Context, userPK int64, channelName string) error
	TouchLastAction(ctx context.Context, userPK int64, channelName string) error
	MarkAwol(ctx context.Context, userPK int64, channelName string) error
	GetConnection(ctx context.Context, userPK int64, channelName string) (*Connection, error)
	ListOnlineForUser(ctx context.Context, userPK int64) ([]Connection, error)
}
