package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the processing state of a task.
type TaskStatus string

// Possible task status values
const (
	TaskStatusAvailable TaskStatus = "available"
	TaskStatusClaimed   TaskStatus = "claimed"
	TaskStatusDone      TaskStatus = "done"
	TaskStatusFailed    TaskStatus = "failed"
)

// TaskPriority orders tasks within the queue. Higher values are claimed
// first. The numeric encoding exists so that storage backends can sort on
// the column directly.
type TaskPriority int16

// Possible task priority values
const (
	TaskPriorityLow    TaskPriority = 0
	TaskPriorityNormal TaskPriority = 1
	TaskPriorityHigh   TaskPriority = 2
)

// Common validation errors for Task
var (
	ErrEmptyTaskID              = errors.New("task ID cannot be empty")
	ErrEmptyCorrelationID       = errors.New("task correlation ID cannot be empty")
	ErrNegativeAttempts         = errors.New("task attempts cannot be negative")
	ErrClaimantWithoutClaim     = errors.New("claimed_by must be set exactly when status is claimed")
	ErrDeadLetterWithoutFailure = errors.New("dead-lettered task must have failed status")
)

// Task is a single unit of encounter-processing work. It is created by the
// ingestion producer in the available state and moves through claimed to a
// terminal done or failed state. Terminal tasks are kept for audit and are
// never deleted by the engine.
type Task struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID string          `json:"correlation_id"`
	Status        TaskStatus      `json:"status"`
	Priority      TaskPriority    `json:"priority"`
	Attempts      int             `json:"attempts"`
	Payload       json.RawMessage `json:"payload"`
	Result        json.RawMessage `json:"result,omitempty"`
	DeadLettered  bool            `json:"dead_lettered"`
	ClaimedBy     *string         `json:"claimed_by,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewTask creates a new Task for the given correlation ID and payload.
// It generates a new UUID, sets the status to available and the priority
// to normal, and stamps the creation/update timestamps.
// Returns an error if validation fails.
func NewTask(correlationID string, payload json.RawMessage) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:            uuid.New(),
		CorrelationID: correlationID,
		Status:        TaskStatusAvailable,
		Priority:      TaskPriorityNormal,
		Attempts:      0,
		Payload:       payload,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data and holds the engine's
// structural invariants:
//   - claimed_by is non-nil exactly when status is claimed
//   - dead_lettered implies status failed
//   - attempts never negative
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.CorrelationID == "" {
		return ErrEmptyCorrelationID
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	if !isValidTaskPriority(t.Priority) {
		return ErrInvalidTaskPriority
	}

	if t.Attempts < 0 {
		return ErrNegativeAttempts
	}

	if (t.ClaimedBy != nil) != (t.Status == TaskStatusClaimed) {
		return ErrClaimantWithoutClaim
	}

	if t.DeadLettered && t.Status != TaskStatusFailed {
		return ErrDeadLetterWithoutFailure
	}

	return nil
}

// IsTerminal reports whether the task has reached a state the engine will
// never mutate again.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusDone || (t.Status == TaskStatusFailed && t.DeadLettered)
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusAvailable, TaskStatusClaimed, TaskStatusDone, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// isValidTaskPriority checks if the given priority is a valid TaskPriority.
func isValidTaskPriority(priority TaskPriority) bool {
	switch priority {
	case TaskPriorityLow, TaskPriorityNormal, TaskPriorityHigh:
		return true
	default:
		return false
	}
}
