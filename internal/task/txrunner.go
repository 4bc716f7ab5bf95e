package task

import (
	"context"
	"database/sql"

	"github.com/calyxhealth/intake-engine/internal/store"
)

// TxRunner executes a function against transactional views of the task and
// worker stores. The claim protocol needs the task transition and the
// worker registry mirror to land together; everything else in the engine is
// a single conditional statement and goes straight through the stores.
type TxRunner interface {
	InTransaction(
		ctx context.Context,
		fn func(ctx context.Context, tasks store.TaskStore, workers store.WorkerStore) error,
	) error
}

// SQLTxRunner implements TxRunner on a *sql.DB using store.RunInTransaction.
type SQLTxRunner struct {
	db      *sql.DB
	tasks   store.TaskStore
	workers store.WorkerStore
}

// NewSQLTxRunner creates a TxRunner that hands fn transaction-scoped
// instances of the given stores.
func NewSQLTxRunner(db *sql.DB, tasks store.TaskStore, workers store.WorkerStore) *SQLTxRunner {
	return &SQLTxRunner{
		db:      db,
		tasks:   tasks,
		workers: workers,
	}
}

// Ensure SQLTxRunner implements TxRunner
var _ TxRunner = (*SQLTxRunner)(nil)

// InTransaction implements TxRunner.InTransaction
func (r *SQLTxRunner) InTransaction(
	ctx context.Context,
	fn func(ctx context.Context, tasks store.TaskStore, workers store.WorkerStore) error,
) error {
	return store.RunInTransaction(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, r.tasks.WithTx(tx), r.workers.WithTx(tx))
	})
}
