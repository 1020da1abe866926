package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-batch/internal/batch"
	"github.com/kozaktomas/face-batch/internal/facematch"
	"github.com/kozaktomas/face-batch/internal/imagecheck"
	"github.com/kozaktomas/face-batch/internal/jobs"
)

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// internalErrorResponse is the body of every 500 response.
type internalErrorResponse struct {
	Error     string    `json:"error"`
	RequestID string    `json:"requestId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	var validationErr *imagecheck.ValidationError
	var collaboratorErr *facematch.CollaboratorError

	switch {
	case errors.As(err, &validationErr),
		errors.Is(err, batch.ErrInvalidChunk),
		errors.Is(err, batch.ErrInvalidRequest),
		errors.Is(err, batch.ErrNoSourceFace),
		errors.Is(err, jobs.ErrInvalidChunkIndex),
		errors.Is(err, jobs.ErrInvalidJob):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrJobTerminal),
		errors.Is(err, jobs.ErrDuplicateChunk):
		return http.StatusConflict
	case errors.As(err, &collaboratorErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError writes err with the status statusForError assigns. Unexpected
// errors are logged and answered with a request id the log line can be found by.
func respondServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusForError(err)
	if status != http.StatusInternalServerError {
		if status == http.StatusBadGateway {
			logger.Warn("recognizer failure", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		respondError(w, status, err.Error())
		return
	}

	requestID := chiMiddleware.GetReqID(r.Context())
	logger.Error("request failed",
		slog.String("request_id", requestID),
		slog.String("path", r.URL.Path),
		slog.Any("error", err))
	respondJSON(w, status, internalErrorResponse{
		Error:     "internal server error",
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	})
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
