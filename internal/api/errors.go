package api

import (
	"errors"
	"net/http"

	"github.com/calyxhealth/intake-engine/internal/store"
	"github.com/calyxhealth/intake-engine/internal/task"
)

// mapServiceError translates engine and store errors into an HTTP status
// and a safe user-facing message. Unrecognized errors become a 500 with a
// generic message; the real error goes to the logs only.
func mapServiceError(err error) (int, string) {
	switch {
	case store.IsNotFoundError(err):
		return http.StatusNotFound, "task not found"
	case errors.Is(err, task.ErrInvalidTransition):
		return http.StatusConflict, "invalid task transition"
	case errors.Is(err, store.ErrUnavailable):
		// Transient storage failure: the caller owns retry-with-backoff.
		return http.StatusServiceUnavailable, "storage temporarily unavailable"
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, "task already exists"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
