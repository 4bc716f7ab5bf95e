package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/calyxhealth/intake-engine/internal/domain"
	"github.com/calyxhealth/intake-engine/internal/platform/logger"
	"github.com/calyxhealth/intake-engine/internal/store"
	"github.com/google/uuid"
)

// taskColumns is the canonical select list for task rows. Keep in sync with
// scanTask.
const taskColumns = `id, correlation_id, status, priority, attempts, payload, result,
	dead_lettered, claimed_by, last_error, created_at, updated_at`

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// Create implements store.TaskStore.Create
// It saves a new task to the database, handling domain validation.
// Returns store.ErrDuplicate if the task ID is already in use.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return err
	}

	query := `
		INSERT INTO tasks (id, correlation_id, status, priority, attempts, payload, result,
			dead_lettered, claimed_by, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		task.ID,
		task.CorrelationID,
		task.Status,
		task.Priority,
		task.Attempts,
		[]byte(task.Payload),
		nullableJSON(task.Result),
		task.DeadLettered,
		task.ClaimedBy,
		nullableString(task.LastError),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()),
			slog.String("correlation_id", task.CorrelationID))
		return MapError(err)
	}

	log.Info("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("correlation_id", task.CorrelationID))
	return nil
}

// GetByID implements store.TaskStore.GetByID
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1`, taskColumns)

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return nil, store.ErrTaskNotFound
		}
		return nil, MapError(err)
	}
	return task, nil
}

// List implements store.TaskStore.List
func (s *PostgresTaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks`, taskColumns)
	var conds []string
	var args []any

	if filter.Status != nil {
		args = append(args, *filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CorrelationID != "" {
		args = append(args, filter.CorrelationID)
		conds = append(conds, fmt.Sprintf("correlation_id = $%d", len(args)))
	}
	if filter.DeadLettered != nil {
		args = append(args, *filter.DeadLettered)
		conds = append(conds, fmt.Sprintf("dead_lettered = $%d", len(args)))
	}

	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]*domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, MapError(err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return tasks, nil
}

// CountTasks implements store.TaskStore.CountTasks
func (s *PostgresTaskStore) CountTasks(ctx context.Context) (*store.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'available'),
			COUNT(*) FILTER (WHERE status = 'claimed'),
			COUNT(*) FILTER (WHERE status = 'done'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE dead_lettered)
		FROM tasks
	`

	var stats store.QueueStats
	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.Available,
		&stats.Claimed,
		&stats.Done,
		&stats.Failed,
		&stats.DeadLettered,
	)
	if err != nil {
		return nil, MapError(err)
	}
	return &stats, nil
}

// ClaimNext implements store.TaskStore.ClaimNext
//
// The select locks the chosen row with FOR UPDATE SKIP LOCKED so concurrent
// claimers never block on, or win, the same task; the status update then
// happens under that lock. This method MUST be run within a transaction.
func (s *PostgresTaskStore) ClaimNext(
	ctx context.Context,
	workerID string,
	minPriority domain.TaskPriority,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	selectQuery := fmt.Sprintf(`
		SELECT %s FROM tasks
		WHERE status = $1 AND priority >= $2
		ORDER BY priority DESC, created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, taskColumns)

	task, err := scanTask(s.db.QueryRowContext(ctx, selectQuery, domain.TaskStatusAvailable, minPriority))
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return nil, store.ErrNoAvailableTask
		}
		return nil, MapError(err)
	}

	updateQuery := `
		UPDATE tasks
		SET status = $1, claimed_by = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, updateQuery,
		domain.TaskStatusClaimed, workerID, now, task.ID, domain.TaskStatusAvailable)
	if err != nil {
		return nil, MapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, MapError(err)
	}
	if affected == 0 {
		// The row lock should make this unreachable; treat it as
		// contention rather than failure.
		log.Warn("claim update affected zero rows despite row lock",
			slog.String("task_id", task.ID.String()),
			slog.String("worker_id", workerID))
		return nil, store.ErrNoAvailableTask
	}

	task.Status = domain.TaskStatusClaimed
	task.ClaimedBy = &workerID
	task.UpdatedAt = now

	log.Info("task claimed",
		slog.String("task_id", task.ID.String()),
		slog.String("worker_id", workerID),
		slog.Int("attempts", task.Attempts))
	return task, nil
}

// MarkDone implements store.TaskStore.MarkDone
func (s *PostgresTaskStore) MarkDone(
	ctx context.Context,
	id uuid.UUID,
	workerID string,
	result json.RawMessage,
) (bool, error) {
	query := `
		UPDATE tasks
		SET status = $1, result = $2, claimed_by = NULL, updated_at = $3
		WHERE id = $4 AND status = $5 AND claimed_by = $6
	`
	res, err := s.db.ExecContext(ctx, query,
		domain.TaskStatusDone,
		nullableJSON(result),
		time.Now().UTC(),
		id,
		domain.TaskStatusClaimed,
		workerID,
	)
	if err != nil {
		return false, MapError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, MapError(err)
	}
	return affected > 0, nil
}

// Requeue implements store.TaskStore.Requeue
//
// The attempts guard is what makes concurrent recovery paths safe: the FAIL
// handler and a sweep both read attempts before deciding, and only the
// first conditional update with the observed value lands.
func (s *PostgresTaskStore) Requeue(
	ctx context.Context,
	id uuid.UUID,
	expectedAttempts int,
	claimedBy, detail string,
) (bool, error) {
	query := `
		UPDATE tasks
		SET status = $1, priority = $2, attempts = attempts + 1,
			claimed_by = NULL, last_error = $3, updated_at = $4
		WHERE id = $5 AND status = $6 AND attempts = $7
			AND ($8 = '' OR claimed_by = $8)
	`
	res, err := s.db.ExecContext(ctx, query,
		domain.TaskStatusAvailable,
		domain.TaskPriorityHigh,
		detail,
		time.Now().UTC(),
		id,
		domain.TaskStatusClaimed,
		expectedAttempts,
		claimedBy,
	)
	if err != nil {
		return false, MapError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, MapError(err)
	}
	return affected > 0, nil
}

// DeadLetter implements store.TaskStore.DeadLetter
func (s *PostgresTaskStore) DeadLetter(
	ctx context.Context,
	id uuid.UUID,
	expectedAttempts int,
	claimedBy, detail string,
) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE tasks
		SET status = $1, dead_lettered = TRUE, attempts = attempts + 1,
			claimed_by = NULL, last_error = $2, updated_at = $3
		WHERE id = $4 AND status = $5 AND attempts = $6
			AND ($7 = '' OR claimed_by = $7)
	`
	res, err := s.db.ExecContext(ctx, query,
		domain.TaskStatusFailed,
		detail,
		time.Now().UTC(),
		id,
		domain.TaskStatusClaimed,
		expectedAttempts,
		claimedBy,
	)
	if err != nil {
		return false, MapError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, MapError(err)
	}

	if affected > 0 {
		log.Warn("task dead-lettered",
			slog.String("task_id", id.String()),
			slog.Int("attempts", expectedAttempts+1),
			slog.String("detail", detail))
	}
	return affected > 0, nil
}

// ListExpiredLeases implements store.TaskStore.ListExpiredLeases
func (s *PostgresTaskStore) ListExpiredLeases(
	ctx context.Context,
	cutoff time.Time,
	limit int,
) ([]*domain.Task, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tasks
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, taskColumns)

	rows, err := s.db.QueryContext(ctx, query, domain.TaskStatusClaimed, cutoff, limit)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]*domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, MapError(err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return tasks, nil
}

// PromoteAged implements store.TaskStore.PromoteAged
func (s *PostgresTaskStore) PromoteAged(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE tasks
		SET priority = $1, updated_at = $2
		WHERE status = $3 AND priority < $1 AND created_at < $4
	`
	res, err := s.db.ExecContext(ctx, query,
		domain.TaskPriorityHigh,
		time.Now().UTC(),
		domain.TaskStatusAvailable,
		cutoff,
	)
	if err != nil {
		return 0, MapError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, MapError(err)
	}
	return affected, nil
}

// WithTx implements store.TaskStore.WithTx
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanTask.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one task row in taskColumns order.
func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task      domain.Task
		payload   []byte
		result    []byte
		claimedBy sql.NullString
		lastError sql.NullString
	)

	err := row.Scan(
		&task.ID,
		&task.CorrelationID,
		&task.Status,
		&task.Priority,
		&task.Attempts,
		&payload,
		&result,
		&task.DeadLettered,
		&claimedBy,
		&lastError,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Payload = json.RawMessage(payload)
	if result != nil {
		task.Result = json.RawMessage(result)
	}
	if claimedBy.Valid {
		task.ClaimedBy = &claimedBy.String
	}
	task.LastError = lastError.String

	return &task, nil
}

// nullableJSON converts an empty raw message to a SQL NULL.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// nullableString converts an empty string to a SQL NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
