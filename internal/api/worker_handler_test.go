package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/calyxhealth/intake-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("claims an available task", func(t *testing.T) {
		t.Parallel()
		handler, tasks, _ := newTestAPI()
		staged := stageTask(tasks, "enc-1", domain.TaskStatusAvailable, domain.TaskPriorityNormal)

		rec := doJSON(t, handler, http.MethodPost, "/api/tasks/claim", ClaimRequest{
			WorkerID: "worker-1",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp TaskResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, staged.ID.String(), resp.ID)
		assert.Equal(t, "claimed", resp.Status)
		require.NotNil(t, resp.ClaimedBy)
		assert.Equal(t, "worker-1", *resp.ClaimedBy)
	})

	t.Run("empty queue returns 204", func(t *testing.T) {
		t.Parallel()
		handler, _, _ := newTestAPI()

		rec := doJSON(t, handler, http.MethodPost, "/api/tasks/claim", ClaimRequest{
			WorkerID: "worker-1",
		})
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.String())
	})

	t.Run("min priority filter", func(t *testing.T) {
		t.Parallel()
		handler, tasks, _ := newTestAPI()
		stageTask(tasks, "enc-low", domain.TaskStatusAvailable, domain.TaskPriorityLow)

		rec := doJSON(t, handler, http.MethodPost, "/api/tasks/claim", ClaimRequest{
			WorkerID:    "worker-1",
			MinPriority: "high",
		})
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("rejects missing worker ID", func(t *testing.T) {
		t.Parallel()
		handler, _, _ := newTestAPI()

		rec := doJSON(t, handler, http.MethodPost, "/api/tasks/claim", ClaimRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects unknown priority name", func(t *testing.T) {
		t.Parallel()
		handler, _, _ := newTestAPI()

		rec := doJSON(t, handler, http.MethodPost, "/api/tasks/claim", ClaimRequest{
			WorkerID:    "worker-1",
			MinPriority: "urgent",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAckEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("completes a claimed task", func(t *testing.T) {
		t.Parallel()
		handler, tasks, _ := newTestAPI()
		staged := stageTask(tasks, "enc-1", domain.TaskStatusAvailable, domain.TaskPriorityNormal)

		rec := doJSON(t, handler, http.MethodPost, "/api/tasks/claim", ClaimRequest{WorkerID: "worker-1"})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, handler, http.MethodPost, "/api/tasks/"+staged.ID.String()+"/ack", AckRequest{
			WorkerID: "worker-1",
			Result:   json.RawMessage(`{"patient_id":"p-1"}`),
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp CompletionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Result)

		rec = doJSON(t, handler, http.MethodGet, "/api/tasks/"+staged.ID.String(), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var taskResp TaskResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &taskResp))
		assert.Equal(t, "done", taskResp.Status)
	})

	t.Run("duplicate ack reports ok", func(t *testing.T) {
		t.Parallel()
		handler, tasks, _ := newTestAPI()
		staged := stageTask(tasks, "enc-1", domain.TaskStatusAvailable, domain.TaskPriorityNormal)

		doJSON(t, handler, http.MethodPost, "/api/tasks/claim", ClaimRequest{WorkerID: "worker-1"})
		ack := AckRequest{WorkerID: "worker-1"}
		path := "/api/tasks/" + staged.ID.String() + "/ack"

		rec := doJSON(t, handler, http.MethodPost, path, ack)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, handler, http.MethodPost, path, ack)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp CompletionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Result)
	})

	t.Run("stale ack reports stale, not an error", func(t *testing.T) {
		t.Parallel()
		handler, tasks, _ := newTestAPI()
		staged := stageTask(tasks, "enc-1", domain.TaskStatusClaimed, domain.TaskPriorityNormal)

		rec := doJSON(t, handler, http.MethodPost, "/api/tasks/"+staged.ID.String()+"/ack", AckRequest{
			WorkerID: "worker-interloper",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp CompletionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "stale", resp.Result)
	})

	t.Run("ack of an unclaimed task conflicts", func(t *testing.T) {
		t.Parallel()
		handler, tasks, _ := newTestAPI()
		staged := stageTask(tasks, "enc-1", domain.TaskStatusAvailable, domain.TaskPriorityNormal)

		rec := doJSON(t, handler, http.MethodPost, "/api/tasks/"+staged.ID.String()+"/ack", AckRequest{
			WorkerID: "worker-1",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown task", func(t *testing.T) {
		t.Parallel()
		handler, _, _ := newTestAPI()

		rec := doJSON(t, handler, http.MethodPost, "/api/tasks/"+uuid.NewString()+"/ack", AckRequest{
			WorkerID: "worker-1",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestFailEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("requeues on first failure", func(t *testing.T) {
		t.Parallel()
		handler, tasks, _ := newTestAPI()
		staged := stageTask(tasks, "enc-1", domain.TaskStatusAvailable, domain.TaskPriorityNormal)

		doJSON(t, handler, http.MethodPost, "/api/tasks/claim", ClaimRequest{WorkerID: "worker-1"})

		rec := doJSON(t, handler, http.MethodPost, "/api/tasks/"+staged.ID.String()+"/fail", FailRequest{
			WorkerID: "worker-1",
			Error:    "upstream timeout",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp CompletionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Result)

		rec = doJSON(t, handler, http.MethodGet, "/api/tasks/"+staged.ID.String(), nil)
		var taskResp TaskResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &taskResp))
		assert.Equal(t, "available", taskResp.Status)
		assert.Equal(t, "high", taskResp.Priority)
		assert.Equal(t, 1, taskResp.Attempts)
		assert.Equal(t, "upstream timeout", taskResp.LastError)
	})

	t.Run("stale fail reports stale", func(t *testing.T) {
		t.Parallel()
		handler, tasks, _ := newTestAPI()
		staged := stageTask(tasks, "enc-1", domain.TaskStatusClaimed, domain.TaskPriorityNormal)

		rec := doJSON(t, handler, http.MethodPost, "/api/tasks/"+staged.ID.String()+"/fail", FailRequest{
			WorkerID: "worker-interloper",
			Error:    "boom",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp CompletionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "stale", resp.Result)
	})

	t.Run("rejects missing error detail", func(t *testing.T) {
		t.Parallel()
		handler, tasks, _ := newTestAPI()
		staged := stageTask(tasks, "enc-1", domain.TaskStatusClaimed, domain.TaskPriorityNormal)

		rec := doJSON(t, handler, http.MethodPost, "/api/tasks/"+staged.ID.String()+"/fail", FailRequest{
			WorkerID: "worker-staged",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("fail of an unclaimed task conflicts", func(t *testing.T) {
		t.Parallel()
		handler, tasks, _ := newTestAPI()
		staged := stageTask(tasks, "enc-1", domain.TaskStatusAvailable, domain.TaskPriorityNormal)

		rec := doJSON(t, handler, http.MethodPost, "/api/tasks/"+staged.ID.String()+"/fail", FailRequest{
			WorkerID: "worker-1",
			Error:    "boom",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestHeartbeatEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("registers and acknowledges", func(t *testing.T) {
		t.Parallel()
		handler, _, workers := newTestAPI()

		rec := doJSON(t, handler, http.MethodPost, "/api/workers/heartbeat", HeartbeatRequest{
			WorkerID: "worker-1",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		record, err := workers.GetByID(context.Background(), "worker-1")
		require.NoError(t, err)
		assert.Equal(t, domain.WorkerLivenessIdle, record.Liveness)
	})

	t.Run("accepts a held task ID", func(t *testing.T) {
		t.Parallel()
		handler, _, _ := newTestAPI()

		rec := doJSON(t, handler, http.MethodPost, "/api/workers/heartbeat", HeartbeatRequest{
			WorkerID:   "worker-1",
			HeldTaskID: uuid.NewString(),
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects malformed held task ID", func(t *testing.T) {
		t.Parallel()
		handler, _, _ := newTestAPI()

		rec := doJSON(t, handler, http.MethodPost, "/api/workers/heartbeat", HeartbeatRequest{
			WorkerID:   "worker-1",
			HeldTaskID: "not-a-uuid",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects missing worker ID", func(t *testing.T) {
		t.Parallel()
		handler, _, _ := newTestAPI()

		rec := doJSON(t, handler, http.MethodPost, "/api/workers/heartbeat", HeartbeatRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListWorkersEndpoint(t *testing.T) {
	t.Parallel()

	handler, _, _ := newTestAPI()

	doJSON(t, handler, http.MethodPost, "/api/workers/heartbeat", HeartbeatRequest{WorkerID: "worker-1"})
	doJSON(t, handler, http.MethodPost, "/api/workers/heartbeat", HeartbeatRequest{WorkerID: "worker-2"})

	rec := doJSON(t, handler, http.MethodGet, "/api/workers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []WorkerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp, 2)
}
