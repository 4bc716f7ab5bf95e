package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/calyxhealth/intake-engine/internal/domain"
	"github.com/calyxhealth/intake-engine/internal/store"
	"github.com/google/uuid"
)

// MockTaskStore implements the store.TaskStore interface in memory for
// testing. Every method takes the store mutex, so the conditional-update
// semantics match the real backend: concurrent writers race, exactly one
// conditional update lands, the rest observe zero rows affected.
type MockTaskStore struct {
	mutex sync.RWMutex
	tasks map[uuid.UUID]*domain.Task
}

// NewMockTaskStore creates an empty in-memory task store.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{
		tasks: make(map[uuid.UUID]*domain.Task),
	}
}

// Ensure MockTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*MockTaskStore)(nil)

// Put inserts or replaces a task verbatim, bypassing validation. Tests use
// it to age timestamps or force unusual states.
func (m *MockTaskStore) Put(t *domain.Task) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.tasks[t.ID] = cloneTask(t)
}

// Create implements store.TaskStore.Create
func (m *MockTaskStore) Create(_ context.Context, t *domain.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.tasks[t.ID]; exists {
		return store.ErrDuplicate
	}
	m.tasks[t.ID] = cloneTask(t)
	return nil
}

// GetByID implements store.TaskStore.GetByID
func (m *MockTaskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	t, exists := m.tasks[id]
	if !exists {
		return nil, store.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

// List implements store.TaskStore.List
func (m *MockTaskStore) List(_ context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]*domain.Task, 0)
	for _, t := range m.tasks {
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.CorrelationID != "" && t.CorrelationID != filter.CorrelationID {
			continue
		}
		if filter.DeadLettered != nil && t.DeadLettered != *filter.DeadLettered {
			continue
		}
		result = append(result, cloneTask(t))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// CountTasks implements store.TaskStore.CountTasks
func (m *MockTaskStore) CountTasks(_ context.Context) (*store.QueueStats, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var stats store.QueueStats
	for _, t := range m.tasks {
		switch t.Status {
		case domain.TaskStatusAvailable:
			stats.Available++
		case domain.TaskStatusClaimed:
			stats.Claimed++
		case domain.TaskStatusDone:
			stats.Done++
		case domain.TaskStatusFailed:
			stats.Failed++
		}
		if t.DeadLettered {
			stats.DeadLettered++
		}
	}
	return &stats, nil
}

// ClaimNext implements store.TaskStore.ClaimNext
func (m *MockTaskStore) ClaimNext(
	_ context.Context,
	workerID string,
	minPriority domain.TaskPriority,
) (*domain.Task, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var best *domain.Task
	for _, t := range m.tasks {
		if t.Status != domain.TaskStatusAvailable || t.Priority < minPriority {
			continue
		}
		if best == nil ||
			t.Priority > best.Priority ||
			(t.Priority == best.Priority && t.CreatedAt.Before(best.CreatedAt)) {
			best = t
		}
	}
	if best == nil {
		return nil, store.ErrNoAvailableTask
	}

	best.Status = domain.TaskStatusClaimed
	worker := workerID
	best.ClaimedBy = &worker
	best.UpdatedAt = time.Now().UTC()
	return cloneTask(best), nil
}

// MarkDone implements store.TaskStore.MarkDone
func (m *MockTaskStore) MarkDone(
	_ context.Context,
	id uuid.UUID,
	workerID string,
	result json.RawMessage,
) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	t, exists := m.tasks[id]
	if !exists || t.Status != domain.TaskStatusClaimed || t.ClaimedBy == nil || *t.ClaimedBy != workerID {
		return false, nil
	}

	t.Status = domain.TaskStatusDone
	t.Result = append(json.RawMessage(nil), result...)
	t.ClaimedBy = nil
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

// Requeue implements store.TaskStore.Requeue
func (m *MockTaskStore) Requeue(
	_ context.Context,
	id uuid.UUID,
	expectedAttempts int,
	claimedBy, detail string,
) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	t, ok := m.claimedWith(id, expectedAttempts, claimedBy)
	if !ok {
		return false, nil
	}

	t.Status = domain.TaskStatusAvailable
	t.Priority = domain.TaskPriorityHigh
	t.Attempts++
	t.ClaimedBy = nil
	t.LastError = detail
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

// DeadLetter implements store.TaskStore.DeadLetter
func (m *MockTaskStore) DeadLetter(
	_ context.Context,
	id uuid.UUID,
	expectedAttempts int,
	claimedBy, detail string,
) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	t, ok := m.claimedWith(id, expectedAttempts, claimedBy)
	if !ok {
		return false, nil
	}

	t.Status = domain.TaskStatusFailed
	t.DeadLettered = true
	t.Attempts++
	t.ClaimedBy = nil
	t.LastError = detail
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ListExpiredLeases implements store.TaskStore.ListExpiredLeases
func (m *MockTaskStore) ListExpiredLeases(
	_ context.Context,
	cutoff time.Time,
	limit int,
) ([]*domain.Task, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]*domain.Task, 0)
	for _, t := range m.tasks {
		if t.Status == domain.TaskStatusClaimed && t.UpdatedAt.Before(cutoff) {
			result = append(result, cloneTask(t))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// PromoteAged implements store.TaskStore.PromoteAged
func (m *MockTaskStore) PromoteAged(_ context.Context, cutoff time.Time) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var promoted int64
	for _, t := range m.tasks {
		if t.Status == domain.TaskStatusAvailable &&
			t.Priority < domain.TaskPriorityHigh &&
			t.CreatedAt.Before(cutoff) {
			t.Priority = domain.TaskPriorityHigh
			t.UpdatedAt = time.Now().UTC()
			promoted++
		}
	}
	return promoted, nil
}

// WithTx implements store.TaskStore.WithTx
// The in-memory store has no transactions; each operation is individually
// atomic under the store mutex.
func (m *MockTaskStore) WithTx(_ *sql.Tx) store.TaskStore {
	return m
}

// claimedWith returns the task if it is still claimed with exactly the
// expected attempts count and, when claimedBy is non-empty, by that worker.
// Callers must hold the mutex.
func (m *MockTaskStore) claimedWith(id uuid.UUID, expectedAttempts int, claimedBy string) (*domain.Task, bool) {
	t, exists := m.tasks[id]
	if !exists || t.Status != domain.TaskStatusClaimed || t.Attempts != expectedAttempts {
		return nil, false
	}
	if claimedBy != "" && (t.ClaimedBy == nil || *t.ClaimedBy != claimedBy) {
		return nil, false
	}
	return t, true
}

// cloneTask copies a task so callers never alias store-internal state.
func cloneTask(t *domain.Task) *domain.Task {
	clone := *t
	if t.ClaimedBy != nil {
		worker := *t.ClaimedBy
		clone.ClaimedBy = &worker
	}
	clone.Payload = append(json.RawMessage(nil), t.Payload...)
	if t.Result != nil {
		clone.Result = append(json.RawMessage(nil), t.Result...)
	}
	return &clone
}

// MockWorkerStore implements the store.WorkerStore interface in memory for
// testing.
type MockWorkerStore struct {
	mutex   sync.RWMutex
	workers map[string]*domain.WorkerRecord
}

// NewMockWorkerStore creates an empty in-memory worker store.
func NewMockWorkerStore() *MockWorkerStore {
	return &MockWorkerStore{
		workers: make(map[string]*domain.WorkerRecord),
	}
}

// Ensure MockWorkerStore implements store.WorkerStore interface
var _ store.WorkerStore = (*MockWorkerStore)(nil)

// Put inserts or replaces a worker record verbatim. Tests use it to age
// heartbeats.
func (m *MockWorkerStore) Put(w *domain.WorkerRecord) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.workers[w.ID] = cloneWorker(w)
}

// Heartbeat implements store.WorkerStore.Heartbeat
func (m *MockWorkerStore) Heartbeat(_ context.Context, workerID string) (*domain.WorkerRecord, error) {
	if workerID == "" {
		return nil, domain.ErrEmptyWorkerID
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := time.Now().UTC()
	w, exists := m.workers[workerID]
	if !exists {
		w = &domain.WorkerRecord{
			ID:            workerID,
			LastHeartbeat: now,
			Liveness:      domain.WorkerLivenessIdle,
			RegisteredAt:  now,
		}
		m.workers[workerID] = w
	} else {
		w.LastHeartbeat = now
		if w.HeldTaskID == nil {
			w.Liveness = domain.WorkerLivenessIdle
		} else {
			w.Liveness = domain.WorkerLivenessHealthy
		}
	}
	return cloneWorker(w), nil
}

// GetByID implements store.WorkerStore.GetByID
func (m *MockWorkerStore) GetByID(_ context.Context, workerID string) (*domain.WorkerRecord, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	w, exists := m.workers[workerID]
	if !exists {
		return nil, store.ErrWorkerNotFound
	}
	return cloneWorker(w), nil
}

// List implements store.WorkerStore.List
func (m *MockWorkerStore) List(_ context.Context) ([]*domain.WorkerRecord, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]*domain.WorkerRecord, 0, len(m.workers))
	for _, w := range m.workers {
		result = append(result, cloneWorker(w))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastHeartbeat.After(result[j].LastHeartbeat)
	})
	return result, nil
}

// SetHeldTask implements store.WorkerStore.SetHeldTask
func (m *MockWorkerStore) SetHeldTask(_ context.Context, workerID string, taskID *uuid.UUID) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	w, exists := m.workers[workerID]
	if !exists {
		return store.ErrWorkerNotFound
	}

	if taskID == nil {
		w.HeldTaskID = nil
		w.Liveness = domain.WorkerLivenessIdle
	} else {
		id := *taskID
		w.HeldTaskID = &id
		w.Liveness = domain.WorkerLivenessHealthy
	}
	return nil
}

// ReleaseHeldTask implements store.WorkerStore.ReleaseHeldTask
func (m *MockWorkerStore) ReleaseHeldTask(_ context.Context, workerID string, taskID uuid.UUID) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	w, exists := m.workers[workerID]
	if !exists || w.HeldTaskID == nil || *w.HeldTaskID != taskID {
		return false, nil
	}

	w.HeldTaskID = nil
	w.Liveness = domain.WorkerLivenessIdle
	return true, nil
}

// MarkLiveness implements store.WorkerStore.MarkLiveness
func (m *MockWorkerStore) MarkLiveness(_ context.Context, workerID string, liveness domain.WorkerLiveness) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	w, exists := m.workers[workerID]
	if !exists {
		return store.ErrWorkerNotFound
	}
	w.Liveness = liveness
	return nil
}

// ListStaleHolders implements store.WorkerStore.ListStaleHolders
func (m *MockWorkerStore) ListStaleHolders(_ context.Context, cutoff time.Time) ([]*domain.WorkerRecord, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]*domain.WorkerRecord, 0)
	for _, w := range m.workers {
		if w.HeldTaskID != nil && w.LastHeartbeat.Before(cutoff) {
			result = append(result, cloneWorker(w))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastHeartbeat.Before(result[j].LastHeartbeat)
	})
	return result, nil
}

// WithTx implements store.WorkerStore.WithTx
func (m *MockWorkerStore) WithTx(_ *sql.Tx) store.WorkerStore {
	return m
}

// cloneWorker copies a worker record so callers never alias store-internal
// state.
func cloneWorker(w *domain.WorkerRecord) *domain.WorkerRecord {
	clone := *w
	if w.HeldTaskID != nil {
		id := *w.HeldTaskID
		clone.HeldTaskID = &id
	}
	return &clone
}

// MockTxRunner implements TxRunner over the in-memory stores. There is no
// transactional rollback; each store operation is individually atomic,
// which is enough for the engine tests.
type MockTxRunner struct {
	Tasks   store.TaskStore
	Workers store.WorkerStore
}

// Ensure MockTxRunner implements TxRunner
var _ TxRunner = (*MockTxRunner)(nil)

// InTransaction implements TxRunner.InTransaction
func (m *MockTxRunner) InTransaction(
	ctx context.Context,
	fn func(ctx context.Context, tasks store.TaskStore, workers store.WorkerStore) error,
) error {
	return fn(ctx, m.Tasks, m.Workers)
}
