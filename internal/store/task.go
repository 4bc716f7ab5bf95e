package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/calyxhealth/intake-engine/internal/domain"
	"github.com/google/uuid"
)

// ErrNoAvailableTask is returned by ClaimNext when no task matches the
// claim criteria. This is an expected outcome of a polling worker, not a
// failure.
var ErrNoAvailableTask = errors.New("no available task")

// TaskFilter narrows List results. Zero values mean "no filter" for that
// field.
type TaskFilter struct {
	Status        *domain.TaskStatus
	CorrelationID string
	DeadLettered  *bool
	Limit         int
}

// QueueStats summarizes the queue for dashboards and alerting.
type QueueStats struct {
	Available    int `json:"available"`
	Claimed      int `json:"claimed"`
	Done         int `json:"done"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered"`
}

// TaskStore defines the interface for task data persistence.
//
// All mutating methods are conditional updates: they apply only when the
// task is still in the state the caller observed, and report whether they
// took effect. This is the discipline that lets the completion handlers and
// the recovery sweeps race each other safely — whichever conditional update
// lands first wins and the loser no-ops.
type TaskStore interface {
	// Create saves a new task to the store.
	// It handles domain validation internally.
	// Returns ErrDuplicate if a task with the same ID already exists.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// List retrieves tasks matching the filter, newest first.
	// Returns an empty slice if no tasks match.
	List(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)

	// CountTasks returns per-status counts plus the dead-letter total.
	CountTasks(ctx context.Context) (*QueueStats, error)

	// ClaimNext atomically selects the best available task at or above
	// minPriority (highest priority first, oldest first within a priority)
	// and transitions it to claimed by workerID. Rows locked by concurrent
	// claimers are skipped, so two racing claims can never win the same
	// task.
	//
	// IMPORTANT: This method MUST be run within a transaction so the row
	// lock covers the status update. Use WithTx together with
	// store.RunInTransaction.
	//
	// Returns ErrNoAvailableTask if nothing is claimable.
	ClaimNext(ctx context.Context, workerID string, minPriority domain.TaskPriority) (*domain.Task, error)

	// MarkDone completes a task: status done, result recorded, claim
	// cleared. Applies only while the task is still claimed by workerID.
	// The returned bool reports whether the update took effect; false with
	// a nil error means another writer changed the task first and the
	// caller should re-read to classify the outcome.
	MarkDone(ctx context.Context, id uuid.UUID, workerID string, result json.RawMessage) (bool, error)

	// Requeue returns a claimed task to available with priority promoted
	// to high, attempts incremented by one and the claim cleared. Applies
	// only while the task is still claimed with exactly expectedAttempts
	// recorded; claimedBy additionally pins the claimant when non-empty
	// (the sweeps pass "" because they reclaim regardless of holder).
	// The detail string is recorded as the task's last error.
	Requeue(ctx context.Context, id uuid.UUID, expectedAttempts int, claimedBy, detail string) (bool, error)

	// DeadLetter moves a claimed task to its terminal failed state with
	// dead_lettered set and attempts incremented by one. Same conditional
	// semantics as Requeue.
	DeadLetter(ctx context.Context, id uuid.UUID, expectedAttempts int, claimedBy, detail string) (bool, error)

	// ListExpiredLeases retrieves claimed tasks whose updated_at is older
	// than cutoff. This reads the task rows directly, not the worker
	// registry, so it is correct even when a worker record was never
	// written.
	ListExpiredLeases(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Task, error)

	// PromoteAged raises the priority of available tasks created before
	// cutoff to high. Returns the number of tasks promoted. Status,
	// attempts and claim fields are never touched.
	PromoteAged(ctx context.Context, cutoff time.Time) (int64, error)

	// WithTx returns a new TaskStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	// The transaction should be created and managed by the caller.
	WithTx(tx *sql.Tx) TaskStore
}
