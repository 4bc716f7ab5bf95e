package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/calyxhealth/intake-engine/internal/domain"
	"github.com/google/uuid"
)

// WorkerStore defines the interface for worker heartbeat persistence.
//
// The registry is advisory: held_task_id mirrors the claim recorded on the
// task itself, and the task store stays authoritative whenever the two
// disagree.
type WorkerStore interface {
	// Heartbeat records a liveness signal from workerID, creating the
	// record on first contact. The worker's held task is left untouched;
	// only the claim and completion paths move it. Returns the record as
	// it stands after the update.
	Heartbeat(ctx context.Context, workerID string) (*domain.WorkerRecord, error)

	// GetByID retrieves a worker record by its ID.
	// Returns ErrWorkerNotFound if the worker has never checked in.
	GetByID(ctx context.Context, workerID string) (*domain.WorkerRecord, error)

	// List retrieves all worker records, most recently seen first.
	List(ctx context.Context) ([]*domain.WorkerRecord, error)

	// SetHeldTask points the worker record at the task it just claimed,
	// or clears it when taskID is nil.
	// Returns ErrWorkerNotFound if the worker has never checked in.
	SetHeldTask(ctx context.Context, workerID string, taskID *uuid.UUID) error

	// ReleaseHeldTask clears the worker's held task only if it still
	// points at taskID, so a release racing a fresh claim cannot wipe the
	// new assignment. The returned bool reports whether the update took
	// effect.
	ReleaseHeldTask(ctx context.Context, workerID string, taskID uuid.UUID) (bool, error)

	// MarkLiveness sets the advisory liveness classification.
	// Returns ErrWorkerNotFound if the worker has never checked in.
	MarkLiveness(ctx context.Context, workerID string, liveness domain.WorkerLiveness) error

	// ListStaleHolders retrieves workers that hold a task but whose last
	// heartbeat is older than cutoff. These are the candidates for lost-
	// worker recovery.
	ListStaleHolders(ctx context.Context, cutoff time.Time) ([]*domain.WorkerRecord, error)

	// WithTx returns a new WorkerStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	// The transaction should be created and managed by the caller.
	WithTx(tx *sql.Tx) WorkerStore
}
