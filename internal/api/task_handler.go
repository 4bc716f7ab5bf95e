package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/calyxhealth/intake-engine/internal/api/shared"
	"github.com/calyxhealth/intake-engine/internal/domain"
	"github.com/calyxhealth/intake-engine/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Orchestrator is the slice of the engine the HTTP layer needs.
type Orchestrator interface {
	CreateTask(ctx context.Context, correlationID string, payload json.RawMessage) (*domain.Task, error)
	Claim(ctx context.Context, workerID string, minPriority domain.TaskPriority) (*domain.Task, error)
	Ack(ctx context.Context, taskID uuid.UUID, workerID string, result json.RawMessage) error
	Fail(ctx context.Context, taskID uuid.UUID, workerID string, detail string) error
	Heartbeat(ctx context.Context, workerID string, heldTaskID *uuid.UUID) error
	GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error)
	Stats(ctx context.Context) (*store.QueueStats, error)
	ListWorkers(ctx context.Context) ([]*domain.WorkerRecord, error)
}

// TaskHandler handles the producer and dashboard side of the API: task
// creation and read-only listing. No engine logic is attached to the read
// surface.
type TaskHandler struct {
	service   Orchestrator
	validator *validator.Validate
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(service Orchestrator) *TaskHandler {
	return &TaskHandler{
		service:   service,
		validator: validator.New(),
	}
}

// CreateTask handles POST /api/tasks requests from the ingestion producer.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	created, err := h.service.CreateTask(r.Context(), req.CorrelationID, req.Payload)
	if err != nil {
		status, msg := mapServiceError(err)
		shared.RespondWithErrorAndLog(w, r, status, msg, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, taskToResponse(created))
}

// GetTask handles GET /api/tasks/{id} requests.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	t, err := h.service.GetTask(r.Context(), taskID)
	if err != nil {
		status, msg := mapServiceError(err)
		shared.RespondWithErrorAndLog(w, r, status, msg, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// ListTasks handles GET /api/tasks requests for dashboards and alerting.
// Supported query parameters: status, correlation_id, dead_lettered, limit.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseTaskFilter(w, r)
	if !ok {
		return
	}

	tasks, err := h.service.ListTasks(r.Context(), filter)
	if err != nil {
		status, msg := mapServiceError(err)
		shared.RespondWithErrorAndLog(w, r, status, msg, err)
		return
	}

	responses := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		responses = append(responses, taskToResponse(t))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// Stats handles GET /api/tasks/stats requests.
func (h *TaskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		status, msg := mapServiceError(err)
		shared.RespondWithErrorAndLog(w, r, status, msg, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, stats)
}

// parseTaskFilter reads the list query parameters, writing an error
// response and returning ok=false when they are malformed.
func parseTaskFilter(w http.ResponseWriter, r *http.Request) (store.TaskFilter, bool) {
	filter := store.TaskFilter{
		CorrelationID: r.URL.Query().Get("correlation_id"),
		Limit:         100,
	}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.TaskStatus(raw)
		switch status {
		case domain.TaskStatusAvailable, domain.TaskStatusClaimed,
			domain.TaskStatusDone, domain.TaskStatusFailed:
			filter.Status = &status
		default:
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid status filter")
			return filter, false
		}
	}

	if raw := r.URL.Query().Get("dead_lettered"); raw != "" {
		deadLettered, err := strconv.ParseBool(raw)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid dead_lettered filter")
			return filter, false
		}
		filter.DeadLettered = &deadLettered
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid limit")
			return filter, false
		}
		filter.Limit = limit
	}

	return filter, true
}
