package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-batch/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	batchHandler := handlers.NewBatchHandler(s.processor, s.logger)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Chunked jobs
		r.Post("/batch-job", batchHandler.CreateJob)
		r.Get("/batch-jobs", batchHandler.ListJobs)
		r.Get("/batch-status/{jobId}", batchHandler.Status)
		r.Get("/batch-status/{jobId}/events", batchHandler.Events)

		// Comparisons, chunked or synchronous
		r.Post("/batch-compare", batchHandler.Compare)

		r.Get("/batch-stats", batchHandler.Stats)
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	})
}
