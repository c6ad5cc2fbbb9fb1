package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// UnitOfWork wraps a single pgx transaction and the commit hooks queued
// against it. Go's pgx has no native commit-hook facility (unlike the
// Django ORM's transaction.on_commit), so the transactional sender
// (component I) attaches its Flush as an OnCommit hook here instead:
// hooks only run once Commit has actually succeeded, never on Rollback.
type UnitOfWork struct {
	tx    pgx.Tx
	hooks []func(context.Context) error
	done  bool
}

// BeginUnitOfWork starts a new transaction against pool.
func BeginUnitOfWork(ctx context.Context, pool *PostgresClient) (*UnitOfWork, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: begin unit of work: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// Tx exposes the underlying transaction so job handlers can run
// parameterized statements against it.
func (u *UnitOfWork) Tx() pgx.Tx {
	return u.tx
}

// OnCommit queues fn to run after Commit succeeds. Hooks run in
// registration order; the first error aborts the remaining hooks and is
// returned from Commit, but by that point the database transaction
// itself is already durably committed.
func (u *UnitOfWork) OnCommit(fn func(context.Context) error) {
	u.hooks = append(u.hooks, fn)
}

// Commit commits the underlying transaction, then runs queued hooks.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return fmt.Errorf("storage: unit of work already finished")
	}
	u.done = true

	if err := u.tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	for _, hook := range u.hooks {
		if err := hook(ctx); err != nil {
			return fmt.Errorf("storage: commit hook: %w", err)
		}
	}
	return nil
}

// Rollback aborts the transaction. Queued hooks never run — this is what
// lets the transactional sender sit on its buffered sends until a
// RunJob actually succeeds (§4.9).
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	if err := u.tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		return fmt.Errorf("storage: rollback: %w", err)
	}
	return nil
}
