package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/calyxhealth/intake-engine/internal/domain"
	"github.com/calyxhealth/intake-engine/internal/store"
	"github.com/google/uuid"
)

// Config holds the engine's tunables. All timers come from configuration;
// none of them is a hard-coded contract.
type Config struct {
	// MaxAttempts is the retry budget before a task is dead-lettered.
	MaxAttempts int

	// LivenessWindow is how long a worker may go silent before the
	// heartbeat monitor reclaims its held task.
	LivenessWindow time.Duration

	// LeaseTimeout is how long a claimed task may sit unmutated before the
	// stuck-task sweep reclaims it.
	LeaseTimeout time.Duration

	// SLAThreshold is how old an unclaimed task may grow before the SLA
	// escalator promotes it to high priority.
	SLAThreshold time.Duration

	// SweepBatchSize caps how many expired leases one sweep pass recovers.
	SweepBatchSize int
}

// DefaultConfig returns a Config with reasonable operational defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		LivenessWindow: 2 * time.Minute,
		LeaseTimeout:   10 * time.Minute,
		SLAThreshold:   30 * time.Minute,
		SweepBatchSize: 100,
	}
}

// Service is the orchestration engine. It mediates between the ingestion
// producer, the polling workers, and the recovery sweeps, with the task
// store as the single source of truth. Every mutation it issues is a
// conditional update, so the service itself carries no synchronization —
// concurrent handlers and sweeps race safely at the storage layer.
type Service struct {
	tasks   store.TaskStore
	workers store.WorkerStore
	tx      TxRunner
	cfg     Config
	logger  *slog.Logger
}

// NewService creates the orchestration engine.
// If logger is nil, a default logger will be used.
func NewService(
	tasks store.TaskStore,
	workers store.WorkerStore,
	tx TxRunner,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if tasks == nil || workers == nil || tx == nil {
		panic("stores and tx runner cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		tasks:   tasks,
		workers: workers,
		tx:      tx,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "task_service")),
	}
}

// CreateTask inserts a new available task for the given encounter
// reference. Called by the ingestion producer.
func (s *Service) CreateTask(
	ctx context.Context,
	correlationID string,
	payload json.RawMessage,
) (*domain.Task, error) {
	t, err := domain.NewTask(correlationID, payload)
	if err != nil {
		return nil, err
	}

	if err := s.tasks.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	return t, nil
}

// Claim atomically hands the best available task to workerID: highest
// priority first, oldest first within a priority. The task transition and
// the worker registry mirror are committed in one transaction. The worker
// record is upserted on the way, so claiming counts as a liveness signal.
//
// Returns ErrNoTaskAvailable when nothing is claimable — the expected
// outcome of an idle poll loop, not a failure.
func (s *Service) Claim(
	ctx context.Context,
	workerID string,
	minPriority domain.TaskPriority,
) (*domain.Task, error) {
	if workerID == "" {
		return nil, domain.ErrEmptyWorkerID
	}

	var claimed *domain.Task
	err := s.tx.InTransaction(ctx, func(ctx context.Context, tasks store.TaskStore, workers store.WorkerStore) error {
		t, err := tasks.ClaimNext(ctx, workerID, minPriority)
		if err != nil {
			return err
		}

		if _, err := workers.Heartbeat(ctx, workerID); err != nil {
			return fmt.Errorf("failed to register claiming worker: %w", err)
		}
		if err := workers.SetHeldTask(ctx, workerID, &t.ID); err != nil {
			return fmt.Errorf("failed to record held task: %w", err)
		}

		claimed = t
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNoAvailableTask) {
			return nil, ErrNoTaskAvailable
		}
		return nil, err
	}

	return claimed, nil
}

// Ack records a successful completion reported by workerID.
//
// Idempotent by design: a duplicate ACK of an already-done task returns nil
// without re-mutating state, so a worker retrying a lost response cannot
// double-apply. An ACK for a task meanwhile reassigned to another worker
// returns ErrStaleClaim and leaves the new claim untouched.
func (s *Service) Ack(
	ctx context.Context,
	taskID uuid.UUID,
	workerID string,
	result json.RawMessage,
) error {
	applied, err := s.tasks.MarkDone(ctx, taskID, workerID, result)
	if err != nil {
		return err
	}
	if applied {
		s.releaseHeld(ctx, workerID, taskID)
		s.logger.Info("task completed",
			slog.String("task_id", taskID.String()),
			slog.String("worker_id", workerID))
		return nil
	}

	// The conditional update did not land; re-read to classify.
	t, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}

	switch {
	case t.Status == domain.TaskStatusDone:
		// Duplicate ACK, e.g. a retried webhook.
		s.releaseHeld(ctx, workerID, taskID)
		return nil
	case t.Status == domain.TaskStatusClaimed && t.ClaimedBy != nil && *t.ClaimedBy != workerID:
		s.logger.Warn("rejected stale ack",
			slog.String("task_id", taskID.String()),
			slog.String("worker_id", workerID),
			slog.String("current_holder", *t.ClaimedBy))
		return ErrStaleClaim
	default:
		return fmt.Errorf("%w: cannot ack task in status %q", ErrInvalidTransition, t.Status)
	}
}

// Fail records a failure reported by workerID and applies the shared
// retry/dead-letter policy: requeue at high priority with attempts
// incremented, or retire to the dead-letter bucket once the retry budget is
// spent. The worker's held-task mirror is cleared regardless of which way
// the policy decides.
//
// Same stale-claim and precondition rules as Ack. If a recovery sweep beats
// the handler to the same failure, the handler's conditional update no-ops
// and nil is returned — the failure was handled, just not by us.
func (s *Service) Fail(
	ctx context.Context,
	taskID uuid.UUID,
	workerID string,
	detail string,
) error {
	t, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}

	if t.Status != domain.TaskStatusClaimed {
		return fmt.Errorf("%w: cannot fail task in status %q", ErrInvalidTransition, t.Status)
	}
	if t.ClaimedBy == nil || *t.ClaimedBy != workerID {
		s.logger.Warn("rejected stale fail",
			slog.String("task_id", taskID.String()),
			slog.String("worker_id", workerID))
		return ErrStaleClaim
	}

	if err := s.recover(ctx, t, workerID, detail); err != nil {
		return err
	}

	s.releaseHeld(ctx, workerID, taskID)
	return nil
}

// Heartbeat records a liveness ping from workerID, registering the worker
// on first contact. heldTaskID is the worker's own view of what it holds;
// it is advisory only, and a disagreement with the registry is logged so
// confused workers show up in the logs rather than silently diverging.
func (s *Service) Heartbeat(ctx context.Context, workerID string, heldTaskID *uuid.UUID) error {
	if workerID == "" {
		return domain.ErrEmptyWorkerID
	}

	record, err := s.workers.Heartbeat(ctx, workerID)
	if err != nil {
		return err
	}

	if !uuidPtrEqual(heldTaskID, record.HeldTaskID) {
		s.logger.Warn("worker-reported held task disagrees with registry",
			slog.String("worker_id", workerID),
			slog.Any("reported", heldTaskID),
			slog.Any("registered", record.HeldTaskID))
	}

	return nil
}

// GetTask retrieves a single task for the dashboard surface.
func (s *Service) GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	return s.tasks.GetByID(ctx, taskID)
}

// ListTasks retrieves tasks matching the filter for the dashboard surface.
func (s *Service) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	return s.tasks.List(ctx, filter)
}

// Stats summarizes the queue for dashboards and alerting.
func (s *Service) Stats(ctx context.Context) (*store.QueueStats, error) {
	return s.tasks.CountTasks(ctx)
}

// ListWorkers retrieves the worker registry for the dashboard surface.
func (s *Service) ListWorkers(ctx context.Context) ([]*domain.WorkerRecord, error) {
	return s.workers.List(ctx)
}

// RecoverLostWorkers is the heartbeat monitor's fast-cycle sweep: every
// worker that holds a task but has not heartbeated within the liveness
// window has its task fed through the retry policy as if the worker had
// reported "worker heartbeat lost". The worker is marked unhealthy and its
// held-task mirror cleared. Returns the number of tasks recovered.
func (s *Service) RecoverLostWorkers(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.LivenessWindow)
	stale, err := s.workers.ListStaleHolders(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale workers: %w", err)
	}

	recovered := 0
	for _, w := range stale {
		taskID := *w.HeldTaskID

		t, err := s.tasks.GetByID(ctx, taskID)
		switch {
		case err != nil && store.IsNotFoundError(err):
			// Registry points at a task that no longer exists; just drop
			// the pointer.
		case err != nil:
			s.logger.Error("failed to load task held by stale worker",
				slog.String("worker_id", w.ID),
				slog.String("task_id", taskID.String()),
				slog.String("error", err.Error()))
			continue
		case t.Status == domain.TaskStatusClaimed && t.ClaimedBy != nil && *t.ClaimedBy == w.ID:
			if err := s.recover(ctx, t, w.ID, "worker heartbeat lost"); err != nil {
				s.logger.Error("failed to recover task from lost worker",
					slog.String("worker_id", w.ID),
					slog.String("task_id", taskID.String()),
					slog.String("error", err.Error()))
				continue
			}
			recovered++
		}

		s.releaseHeld(ctx, w.ID, taskID)
		if err := s.workers.MarkLiveness(ctx, w.ID, domain.WorkerLivenessUnhealthy); err != nil {
			s.logger.Warn("failed to mark worker unhealthy",
				slog.String("worker_id", w.ID),
				slog.String("error", err.Error()))
		}
	}

	return recovered, nil
}

// SweepStuckTasks is the slow-cycle backstop: it scans the task rows
// directly for claims whose updated_at aged past the lease timeout and
// recovers them as "lease expired", regardless of what the worker registry
// says. This catches every case the heartbeat monitor can miss — a worker
// record that was never written, or a worker that heartbeats but never
// finishes. Returns the number of tasks recovered.
func (s *Service) SweepStuckTasks(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.LeaseTimeout)
	expired, err := s.tasks.ListExpiredLeases(ctx, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired leases: %w", err)
	}

	recovered := 0
	for _, t := range expired {
		holder := ""
		if t.ClaimedBy != nil {
			holder = *t.ClaimedBy
		}

		// Empty claimant: reclaim no matter who holds the task now.
		if err := s.recover(ctx, t, "", "lease expired"); err != nil {
			s.logger.Error("failed to recover stuck task",
				slog.String("task_id", t.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		recovered++

		if holder != "" {
			s.releaseHeld(ctx, holder, t.ID)
		}
	}

	return recovered, nil
}

// EscalateAgedTasks promotes available tasks older than the SLA threshold
// to high priority. Purely a starvation countermeasure: status, attempts
// and claim fields are never touched. Returns the number of tasks promoted.
func (s *Service) EscalateAgedTasks(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.SLAThreshold)
	promoted, err := s.tasks.PromoteAged(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to promote aged tasks: %w", err)
	}

	if promoted > 0 {
		s.logger.Info("escalated aged tasks to high priority",
			slog.Int64("count", promoted))
	}
	return promoted, nil
}

// recover applies the shared retry/dead-letter policy to a claimed task.
// claimedBy pins the expected claimant; empty means reclaim from any
// holder. The conditional update is keyed on the attempts value read into
// t, so when two recovery paths race, exactly one lands and the other
// no-ops here without error.
func (s *Service) recover(ctx context.Context, t *domain.Task, claimedBy, detail string) error {
	outcome := Decide(t.Attempts+1, s.cfg.MaxAttempts)

	var (
		applied bool
		err     error
	)
	switch outcome {
	case OutcomeDeadLetter:
		applied, err = s.tasks.DeadLetter(ctx, t.ID, t.Attempts, claimedBy, detail)
	default:
		applied, err = s.tasks.Requeue(ctx, t.ID, t.Attempts, claimedBy, detail)
	}
	if err != nil {
		return err
	}

	if !applied {
		s.logger.Debug("recovery already applied by a concurrent path",
			slog.String("task_id", t.ID.String()),
			slog.String("detail", detail))
		return nil
	}

	s.logger.Info("task recovered",
		slog.String("task_id", t.ID.String()),
		slog.String("outcome", outcome.String()),
		slog.Int("attempts", t.Attempts+1),
		slog.String("detail", detail))
	return nil
}

// releaseHeld clears the worker's held-task mirror, best effort. The task
// store stays correct either way; this only keeps the advisory registry
// tidy.
func (s *Service) releaseHeld(ctx context.Context, workerID string, taskID uuid.UUID) {
	if _, err := s.workers.ReleaseHeldTask(ctx, workerID, taskID); err != nil {
		s.logger.Warn("failed to release held task",
			slog.String("worker_id", workerID),
			slog.String("task_id", taskID.String()),
			slog.String("error", err.Error()))
	}
}

// uuidPtrEqual compares two optional UUIDs.
func uuidPtrEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
