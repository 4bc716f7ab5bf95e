package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)

	RespondWithJSON(rec, req, http.StatusCreated, map[string]string{"result": "ok"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"result":"ok"}`, rec.Body.String())
}

func TestRespondWithErrorIncludesTraceID(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(SetTraceID(req.Context()))

	RespondWithError(rec, req, http.StatusBadRequest, "Invalid request format")

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Invalid request format", resp.Error)
	assert.Len(t, resp.TraceID, TraceIDLength*2)
}

func TestRespondWithErrorAndLogHidesDetails(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)

	internal := errors.New("connect failed: postgres://intake:s3cret@db/intake")
	RespondWithErrorAndLog(rec, req, http.StatusInternalServerError, "internal server error", internal)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "s3cret", "internal error detail never reaches the client")

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "internal server error", resp.Error)
}

func TestTraceIDLifecycle(t *testing.T) {
	t.Parallel()

	ctx := SetTraceID(context.Background())
	traceID := GetTraceID(ctx)

	require.NotEmpty(t, traceID)
	assert.Len(t, traceID, TraceIDLength*2)
	assert.Equal(t, strings.ToLower(traceID), traceID, "trace IDs are lowercase hex")

	// Absent trace ID reads as empty, never panics.
	assert.Empty(t, GetTraceID(context.Background()))

	// Each context gets its own ID.
	assert.NotEqual(t, traceID, GetTraceID(SetTraceID(context.Background())))
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type payload struct {
		WorkerID string `json:"worker_id" validate:"required"`
	}

	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"worker_id":"worker-1"}`))
	var p payload
	require.NoError(t, DecodeJSON(req, &p))
	assert.Equal(t, "worker-1", p.WorkerID)

	req = httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("{broken"))
	assert.Error(t, DecodeJSON(req, &p))
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	type payload struct {
		WorkerID string `json:"worker_id" validate:"required"`
	}

	assert.NoError(t, ValidateRequest(payload{WorkerID: "worker-1"}))
	assert.Error(t, ValidateRequest(payload{}))
}
