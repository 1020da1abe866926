package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-batch/internal/batch"
	"github.com/kozaktomas/face-batch/internal/facematch"
	"github.com/kozaktomas/face-batch/internal/imagecheck"
	"github.com/kozaktomas/face-batch/internal/jobs"
	"github.com/kozaktomas/face-batch/internal/logging"
)

func TestRespondJSON_SetsStatusAndContentType(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusCreated, http.StatusConflict} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondJSON(recorder, status, map[string]string{"status": "ok"})

			assertStatusCode(t, recorder, status)
			assertContentType(t, recorder, "application/json")
		})
	}
}

func TestRespondJSON_NilData(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusOK, nil)

	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body for nil data, got '%s'", recorder.Body.String())
	}
}

func TestRespondError_ContainsErrorKey(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondError(recorder, http.StatusBadRequest, "something went wrong")

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "something went wrong")
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", fmt.Errorf("source image: %w", &imagecheck.ValidationError{Field: "size", Reason: "too small"}), http.StatusBadRequest},
		{"invalid chunk", fmt.Errorf("%w: no target images supplied", batch.ErrInvalidChunk), http.StatusBadRequest},
		{"invalid request", batch.ErrInvalidRequest, http.StatusBadRequest},
		{"no source face", batch.ErrNoSourceFace, http.StatusBadRequest},
		{"chunk index", jobs.ErrInvalidChunkIndex, http.StatusBadRequest},
		{"not found", jobs.ErrNotFound, http.StatusNotFound},
		{"terminal", jobs.ErrJobTerminal, http.StatusConflict},
		{"duplicate", fmt.Errorf("%w: index 2", jobs.ErrDuplicateChunk), http.StatusConflict},
		{"recognizer", fmt.Errorf("detecting source faces: %w", &facematch.CollaboratorError{Op: "detect", Err: errors.New("down")}), http.StatusBadGateway},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusForError(tt.err); got != tt.expected {
				t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRespondServiceError_InternalCarriesRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/batch-stats", nil)
	req = req.WithContext(context.WithValue(req.Context(), chiMiddleware.RequestIDKey, "req-42"))
	recorder := httptest.NewRecorder()

	respondServiceError(recorder, req, logging.Discard(), errors.New("boom"))

	assertStatusCode(t, recorder, http.StatusInternalServerError)

	var body map[string]string
	parseJSONResponse(t, recorder, &body)
	if body["error"] != "internal server error" {
		t.Errorf("expected generic error message, got '%s'", body["error"])
	}
	if body["requestId"] != "req-42" {
		t.Errorf("expected requestId 'req-42', got '%s'", body["requestId"])
	}
	if body["timestamp"] == "" {
		t.Error("expected timestamp to be set")
	}
}

func TestRespondServiceError_ClientErrorKeepsMessage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/batch-status/x", nil)
	recorder := httptest.NewRecorder()

	respondServiceError(recorder, req, logging.Discard(), jobs.ErrNotFound)

	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "job not found")
}

func TestHealthCheck_ReturnsStatusOk(t *testing.T) {
	recorder := httptest.NewRecorder()

	HealthCheck(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", result["status"])
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("job\r\nid"); got != "jobid" {
		t.Errorf("expected 'jobid', got '%s'", got)
	}
}
