package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// WorkerLiveness is the advisory health classification of a worker as seen
// by the heartbeat monitor. It is derived state: the task store, not the
// worker record, is authoritative for who holds which task.
type WorkerLiveness string

// Possible worker liveness values
const (
	WorkerLivenessHealthy   WorkerLiveness = "healthy"
	WorkerLivenessUnhealthy WorkerLiveness = "unhealthy"
	WorkerLivenessIdle      WorkerLiveness = "idle"
)

// ErrEmptyWorkerID is returned when a worker record has no identifier.
var ErrEmptyWorkerID = errors.New("worker ID cannot be empty")

// WorkerRecord tracks the last-known liveness of a remote worker and the
// task it currently holds, if any. A record is created implicitly on the
// worker's first heartbeat and is never deleted; once its heartbeat ages
// past the liveness window the engine simply stops trusting it.
type WorkerRecord struct {
	ID            string         `json:"id"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	HeldTaskID    *uuid.UUID     `json:"held_task_id,omitempty"`
	Liveness      WorkerLiveness `json:"liveness"`
	RegisteredAt  time.Time      `json:"registered_at"`
}

// NewWorkerRecord creates a record for a worker seen for the first time.
// The worker starts idle with a fresh heartbeat.
func NewWorkerRecord(workerID string) (*WorkerRecord, error) {
	now := time.Now().UTC()
	record := &WorkerRecord{
		ID:            workerID,
		LastHeartbeat: now,
		Liveness:      WorkerLivenessIdle,
		RegisteredAt:  now,
	}

	if err := record.Validate(); err != nil {
		return nil, err
	}

	return record, nil
}

// Validate checks if the WorkerRecord has valid data.
func (w *WorkerRecord) Validate() error {
	if w.ID == "" {
		return ErrEmptyWorkerID
	}

	if !isValidWorkerLiveness(w.Liveness) {
		return ErrInvalidLiveness
	}

	return nil
}

// isValidWorkerLiveness checks if the given value is a valid WorkerLiveness.
func isValidWorkerLiveness(liveness WorkerLiveness) bool {
	switch liveness {
	case WorkerLivenessHealthy, WorkerLivenessUnhealthy, WorkerLivenessIdle:
		return true
	default:
		return false
	}
}
