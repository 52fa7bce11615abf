package database

import (
	"context"
	"fmt"
)

// TxManager runs a function inside a database transaction. Repository calls
// made with the same context execute on the tenant-scoped connection and so
// participate in the transaction.
type TxManager interface {
	// WithinTx begins a transaction on the tenant-scoped connection, runs fn,
	// and commits. Any error from fn rolls the transaction back and is
	// returned unchanged.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type pgxTxManager struct{}

// NewTxManager creates a TxManager backed by the tenant-scoped pgx connection.
func NewTxManager() TxManager {
	return &pgxTxManager{}
}

var _ TxManager = (*pgxTxManager)(nil)

func (m *pgxTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	scope, ok := GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if err := fn(ctx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
