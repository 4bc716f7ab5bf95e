package main

import (
	"net/http"

	"github.com/calyxhealth/intake-engine/internal/api"
	apiMiddleware "github.com/calyxhealth/intake-engine/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware. It accepts the application dependencies to create handlers
// and register routes. Returns the configured router.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware) // Add trace IDs for improved error handling

	taskHandler := api.NewTaskHandler(app.service)
	workerHandler := api.NewWorkerHandler(app.service, app.logger)

	r.Route("/api", func(r chi.Router) {
		// Producer and dashboard endpoints
		r.Post("/tasks", taskHandler.CreateTask)
		r.Get("/tasks", taskHandler.ListTasks)
		r.Get("/tasks/stats", taskHandler.Stats)
		r.Get("/tasks/{id}", taskHandler.GetTask)

		// Worker endpoints
		r.Post("/tasks/claim", workerHandler.Claim)
		r.Post("/tasks/{id}/ack", workerHandler.Ack)
		r.Post("/tasks/{id}/fail", workerHandler.Fail)
		r.Post("/workers/heartbeat", workerHandler.Heartbeat)
		r.Get("/workers", workerHandler.ListWorkers)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
