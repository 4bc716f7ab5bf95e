package api

import (
	"encoding/json"
	"time"

	"github.com/calyxhealth/intake-engine/internal/domain"
)

// CreateTaskRequest represents the request body for creating a new task.
type CreateTaskRequest struct {
	CorrelationID string          `json:"correlation_id" validate:"required"`
	Payload       json.RawMessage `json:"payload"       validate:"required"`
}

// ClaimRequest represents a worker's poll for work.
type ClaimRequest struct {
	WorkerID    string `json:"worker_id"    validate:"required"`
	MinPriority string `json:"min_priority" validate:"omitempty,oneof=low normal high"`
}

// AckRequest represents a worker reporting successful completion.
type AckRequest struct {
	WorkerID string          `json:"worker_id" validate:"required"`
	Result   json.RawMessage `json:"result"`
}

// FailRequest represents a worker reporting a failure.
type FailRequest struct {
	WorkerID string `json:"worker_id" validate:"required"`
	Error    string `json:"error"     validate:"required"`
}

// HeartbeatRequest represents a worker liveness ping.
type HeartbeatRequest struct {
	WorkerID   string `json:"worker_id"    validate:"required"`
	HeldTaskID string `json:"held_task_id" validate:"omitempty,uuid"`
}

// CompletionResponse reports the outcome of an ack or fail call.
// "ok" means the completion was applied; "stale" means the task had
// meanwhile been reassigned and the caller should not retry.
type CompletionResponse struct {
	Result string `json:"result"`
}

// TaskResponse represents the response data for a task.
type TaskResponse struct {
	ID            string          `json:"id"`
	CorrelationID string          `json:"correlation_id"`
	Status        string          `json:"status"`
	Priority      string          `json:"priority"`
	Attempts      int             `json:"attempts"`
	Payload       json.RawMessage `json:"payload"`
	Result        json.RawMessage `json:"result,omitempty"`
	DeadLettered  bool            `json:"dead_lettered"`
	ClaimedBy     *string         `json:"claimed_by,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// WorkerResponse represents the response data for a worker record.
type WorkerResponse struct {
	ID            string    `json:"id"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	HeldTaskID    *string   `json:"held_task_id,omitempty"`
	Liveness      string    `json:"liveness"`
	RegisteredAt  time.Time `json:"registered_at"`
}

// taskToResponse converts a domain.Task to a TaskResponse.
func taskToResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:            t.ID.String(),
		CorrelationID: t.CorrelationID,
		Status:        string(t.Status),
		Priority:      priorityName(t.Priority),
		Attempts:      t.Attempts,
		Payload:       t.Payload,
		Result:        t.Result,
		DeadLettered:  t.DeadLettered,
		ClaimedBy:     t.ClaimedBy,
		LastError:     t.LastError,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// workerToResponse converts a domain.WorkerRecord to a WorkerResponse.
func workerToResponse(w *domain.WorkerRecord) WorkerResponse {
	resp := WorkerResponse{
		ID:            w.ID,
		LastHeartbeat: w.LastHeartbeat,
		Liveness:      string(w.Liveness),
		RegisteredAt:  w.RegisteredAt,
	}
	if w.HeldTaskID != nil {
		id := w.HeldTaskID.String()
		resp.HeldTaskID = &id
	}
	return resp
}

// priorityName maps the numeric priority encoding to its wire name.
func priorityName(p domain.TaskPriority) string {
	switch p {
	case domain.TaskPriorityHigh:
		return "high"
	case domain.TaskPriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// parsePriority maps a wire priority name to its numeric encoding.
// The empty string means "low", i.e. no filtering.
func parsePriority(name string) domain.TaskPriority {
	switch name {
	case "high":
		return domain.TaskPriorityHigh
	case "normal":
		return domain.TaskPriorityNormal
	default:
		return domain.TaskPriorityLow
	}
}
