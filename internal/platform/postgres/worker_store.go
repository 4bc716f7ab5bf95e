package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/calyxhealth/intake-engine/internal/domain"
	"github.com/calyxhealth/intake-engine/internal/platform/logger"
	"github.com/calyxhealth/intake-engine/internal/store"
	"github.com/google/uuid"
)

const workerColumns = `id, last_heartbeat, held_task_id, liveness, registered_at`

// PostgresWorkerStore implements the store.WorkerStore interface
// using a PostgreSQL database as the storage backend.
type PostgresWorkerStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresWorkerStore creates a new PostgreSQL implementation of the WorkerStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresWorkerStore(db store.DBTX, logger *slog.Logger) *PostgresWorkerStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresWorkerStore{
		db:     db,
		logger: logger.With(slog.String("component", "worker_store")),
	}
}

// Ensure PostgresWorkerStore implements store.WorkerStore interface
var _ store.WorkerStore = (*PostgresWorkerStore)(nil)

// Heartbeat implements store.WorkerStore.Heartbeat
// The upsert registers unknown workers on first contact. Liveness is
// recomputed from whether the worker holds a task; held_task_id itself is
// only moved by the claim and completion paths.
func (s *PostgresWorkerStore) Heartbeat(ctx context.Context, workerID string) (*domain.WorkerRecord, error) {
	if workerID == "" {
		return nil, domain.ErrEmptyWorkerID
	}

	query := `
		INSERT INTO workers (id, last_heartbeat, held_task_id, liveness, registered_at)
		VALUES ($1, $2, NULL, $3, $2)
		ON CONFLICT (id) DO UPDATE
		SET last_heartbeat = EXCLUDED.last_heartbeat,
			liveness = CASE
				WHEN workers.held_task_id IS NULL THEN $3
				ELSE $4
			END
		RETURNING ` + workerColumns

	record, err := scanWorker(s.db.QueryRowContext(ctx, query,
		workerID,
		time.Now().UTC(),
		domain.WorkerLivenessIdle,
		domain.WorkerLivenessHealthy,
	))
	if err != nil {
		return nil, MapError(err)
	}
	return record, nil
}

// GetByID implements store.WorkerStore.GetByID
// Returns store.ErrWorkerNotFound if the worker has never checked in.
func (s *PostgresWorkerStore) GetByID(ctx context.Context, workerID string) (*domain.WorkerRecord, error) {
	query := `SELECT ` + workerColumns + ` FROM workers WHERE id = $1`

	record, err := scanWorker(s.db.QueryRowContext(ctx, query, workerID))
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return nil, store.ErrWorkerNotFound
		}
		return nil, MapError(err)
	}
	return record, nil
}

// List implements store.WorkerStore.List
func (s *PostgresWorkerStore) List(ctx context.Context) ([]*domain.WorkerRecord, error) {
	query := `SELECT ` + workerColumns + ` FROM workers ORDER BY last_heartbeat DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]*domain.WorkerRecord, 0)
	for rows.Next() {
		record, err := scanWorker(rows)
		if err != nil {
			return nil, MapError(err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return records, nil
}

// SetHeldTask implements store.WorkerStore.SetHeldTask
func (s *PostgresWorkerStore) SetHeldTask(ctx context.Context, workerID string, taskID *uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	liveness := domain.WorkerLivenessIdle
	if taskID != nil {
		liveness = domain.WorkerLivenessHealthy
	}

	query := `
		UPDATE workers
		SET held_task_id = $1, liveness = $2
		WHERE id = $3
	`
	res, err := s.db.ExecContext(ctx, query, taskID, liveness, workerID)
	if err != nil {
		return MapError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return MapError(err)
	}
	if affected == 0 {
		log.Warn("held task update for unknown worker",
			slog.String("worker_id", workerID))
		return store.ErrWorkerNotFound
	}
	return nil
}

// ReleaseHeldTask implements store.WorkerStore.ReleaseHeldTask
func (s *PostgresWorkerStore) ReleaseHeldTask(ctx context.Context, workerID string, taskID uuid.UUID) (bool, error) {
	query := `
		UPDATE workers
		SET held_task_id = NULL, liveness = $1
		WHERE id = $2 AND held_task_id = $3
	`
	res, err := s.db.ExecContext(ctx, query, domain.WorkerLivenessIdle, workerID, taskID)
	if err != nil {
		return false, MapError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, MapError(err)
	}
	return affected > 0, nil
}

// MarkLiveness implements store.WorkerStore.MarkLiveness
func (s *PostgresWorkerStore) MarkLiveness(ctx context.Context, workerID string, liveness domain.WorkerLiveness) error {
	query := `UPDATE workers SET liveness = $1 WHERE id = $2`

	res, err := s.db.ExecContext(ctx, query, liveness, workerID)
	if err != nil {
		return MapError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return MapError(err)
	}
	if affected == 0 {
		return store.ErrWorkerNotFound
	}
	return nil
}

// ListStaleHolders implements store.WorkerStore.ListStaleHolders
func (s *PostgresWorkerStore) ListStaleHolders(ctx context.Context, cutoff time.Time) ([]*domain.WorkerRecord, error) {
	query := `
		SELECT ` + workerColumns + ` FROM workers
		WHERE held_task_id IS NOT NULL AND last_heartbeat < $1
		ORDER BY last_heartbeat ASC
	`

	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]*domain.WorkerRecord, 0)
	for rows.Next() {
		record, err := scanWorker(rows)
		if err != nil {
			return nil, MapError(err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return records, nil
}

// WithTx implements store.WorkerStore.WithTx
func (s *PostgresWorkerStore) WithTx(tx *sql.Tx) store.WorkerStore {
	return &PostgresWorkerStore{
		db:     tx,
		logger: s.logger,
	}
}

// scanWorker reads one worker row in workerColumns order.
func scanWorker(row rowScanner) (*domain.WorkerRecord, error) {
	var (
		record     domain.WorkerRecord
		heldTaskID uuid.NullUUID
	)

	err := row.Scan(
		&record.ID,
		&record.LastHeartbeat,
		&heldTaskID,
		&record.Liveness,
		&record.RegisteredAt,
	)
	if err != nil {
		return nil, err
	}

	if heldTaskID.Valid {
		id := heldTaskID.UUID
		record.HeldTaskID = &id
	}

	return &record, nil
}
