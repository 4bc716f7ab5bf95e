package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/calyxhealth/intake-engine/internal/api/shared"
	"github.com/calyxhealth/intake-engine/internal/platform/logger"
	"github.com/calyxhealth/intake-engine/internal/task"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// WorkerHandler handles the worker-facing side of the API: claiming work,
// reporting completion or failure, and heartbeats.
type WorkerHandler struct {
	service   Orchestrator
	validator *validator.Validate
	logger    *slog.Logger
}

// NewWorkerHandler creates a new WorkerHandler.
func NewWorkerHandler(service Orchestrator, log *slog.Logger) *WorkerHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WorkerHandler{
		service:   service,
		validator: validator.New(),
		logger:    log.With(slog.String("component", "worker_handler")),
	}
}

// Claim handles POST /api/tasks/claim requests. A successful claim returns
// the claimed task; an empty queue returns 204 with no body so pollers can
// distinguish "nothing to do" from an error without parsing.
func (h *WorkerHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	claimed, err := h.service.Claim(r.Context(), req.WorkerID, parsePriority(req.MinPriority))
	if err != nil {
		if errors.Is(err, task.ErrNoTaskAvailable) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		status, msg := mapServiceError(err)
		shared.RespondWithErrorAndLog(w, r, status, msg, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(claimed))
}

// Ack handles POST /api/tasks/{id}/ack requests.
func (h *WorkerHandler) Ack(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	var req AckRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	err = h.service.Ack(r.Context(), taskID, req.WorkerID, req.Result)
	h.respondCompletion(w, r, taskID, req.WorkerID, "ack", err)
}

// Fail handles POST /api/tasks/{id}/fail requests.
func (h *WorkerHandler) Fail(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	var req FailRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	err = h.service.Fail(r.Context(), taskID, req.WorkerID, req.Error)
	h.respondCompletion(w, r, taskID, req.WorkerID, "fail", err)
}

// respondCompletion maps the outcome of an ack or fail call. A stale claim
// is reported as success with result "stale": the worker's report was for a
// task that has moved on, and retrying would only repeat the same answer.
func (h *WorkerHandler) respondCompletion(w http.ResponseWriter, r *http.Request, taskID uuid.UUID, workerID, op string, err error) {
	if err == nil {
		shared.RespondWithJSON(w, r, http.StatusOK, CompletionResponse{Result: "ok"})
		return
	}

	if errors.Is(err, task.ErrStaleClaim) {
		log := logger.FromContextOrDefault(r.Context(), h.logger)
		log.InfoContext(r.Context(), "absorbed stale completion",
			slog.String("op", op),
			slog.String("task_id", taskID.String()),
			slog.String("worker_id", workerID))
		shared.RespondWithJSON(w, r, http.StatusOK, CompletionResponse{Result: "stale"})
		return
	}

	status, msg := mapServiceError(err)
	shared.RespondWithErrorAndLog(w, r, status, msg, err)
}

// Heartbeat handles POST /api/workers/heartbeat requests.
func (h *WorkerHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	var heldTaskID *uuid.UUID
	if req.HeldTaskID != "" {
		id, err := uuid.Parse(req.HeldTaskID)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid held task ID")
			return
		}
		heldTaskID = &id
	}

	if err := h.service.Heartbeat(r.Context(), req.WorkerID, heldTaskID); err != nil {
		status, msg := mapServiceError(err)
		shared.RespondWithErrorAndLog(w, r, status, msg, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"result": "ok"})
}

// ListWorkers handles GET /api/workers requests.
func (h *WorkerHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.service.ListWorkers(r.Context())
	if err != nil {
		status, msg := mapServiceError(err)
		shared.RespondWithErrorAndLog(w, r, status, msg, err)
		return
	}

	responses := make([]WorkerResponse, 0, len(workers))
	for _, wr := range workers {
		responses = append(responses, workerToResponse(wr))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}
