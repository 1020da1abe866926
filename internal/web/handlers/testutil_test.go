package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-batch/internal/batch"
	"github.com/kozaktomas/face-batch/internal/facematch"
	"github.com/kozaktomas/face-batch/internal/imagecheck/imagetest"
	"github.com/kozaktomas/face-batch/internal/jobs"
	"github.com/kozaktomas/face-batch/internal/logging"
	"github.com/kozaktomas/face-batch/internal/metrics"
)

// mockRecognizer returns a fixed number of faces per image fingerprint.
type mockRecognizer struct {
	mu      sync.Mutex
	faces   map[string]int
	failing map[string]error
	calls   int
}

func newMockRecognizer() *mockRecognizer {
	return &mockRecognizer{faces: make(map[string]int), failing: make(map[string]error)}
}

func (m *mockRecognizer) setFaces(image []byte, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faces[facematch.Fingerprint(image)] = n
}

func (m *mockRecognizer) fail(image []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[facematch.Fingerprint(image)] = err
}

func (m *mockRecognizer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockRecognizer) DetectFaces(_ context.Context, image []byte) ([]facematch.Face, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	key := facematch.Fingerprint(image)
	if err := m.failing[key]; err != nil {
		return nil, err
	}
	faces := make([]facematch.Face, m.faces[key])
	for i := range faces {
		faces[i] = facematch.Face{Index: i, Confidence: 0.98, Embedding: []float32{0, 1}}
	}
	return faces, nil
}

func (m *mockRecognizer) CompareFaces(ctx context.Context, source, target []byte, threshold float64) (*facematch.Comparison, error) {
	sourceFaces, err := m.DetectFaces(ctx, source)
	if err != nil {
		return nil, err
	}
	targetFaces, err := m.DetectFaces(ctx, target)
	if err != nil {
		return nil, err
	}
	return facematch.CompareEmbeddings(sourceFaces, targetFaces, threshold), nil
}

// testEnv is a batch handler backed by a mock recognizer.
type testEnv struct {
	recognizer *mockRecognizer
	registry   *jobs.Registry
	handler    *BatchHandler
	router     chi.Router
	source     []byte
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	rec := newMockRecognizer()
	source := imagetest.PNG(1, 32, 32)
	rec.setFaces(source, 1)

	registry := jobs.NewRegistry(jobs.WithSweepInterval(0), jobs.WithLogger(logging.Discard()))
	t.Cleanup(registry.Stop)

	orch := batch.NewOrchestrator(rec, batch.Options{Logger: logging.Discard()})
	processor := batch.NewChunkProcessor(orch, registry, batch.ProcessorOptions{
		MaxTargetsPerChunk: 5,
		Metrics:            metrics.NewMetrics(),
		Logger:             logging.Discard(),
	})
	h := NewBatchHandler(processor, logging.Discard())

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/batch-job", h.CreateJob)
		r.Get("/batch-jobs", h.ListJobs)
		r.Get("/batch-status/{jobId}", h.Status)
		r.Get("/batch-status/{jobId}/events", h.Events)
		r.Post("/batch-compare", h.Compare)
		r.Get("/batch-stats", h.Stats)
	})

	return &testEnv{recognizer: rec, registry: registry, handler: h, router: r, source: source}
}

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	e.router.ServeHTTP(recorder, req)
	return recorder
}

// target returns a PNG target whose face count is registered with the mock.
func (e *testEnv) target(seed uint64, faces int) formFile {
	data := imagetest.PNG(seed, 32, 32)
	e.recognizer.setFaces(data, faces)
	return formFile{field: "targets", name: fmt.Sprintf("target-%d.png", seed), mime: "image/png", data: data}
}

func (e *testEnv) sourceFile() formFile {
	return formFile{field: "source", name: "source.png", mime: "image/png", data: e.source}
}

// formFile is one file part of a multipart request.
type formFile struct {
	field string
	name  string
	mime  string
	data  []byte
}

// multipartRequest builds a multipart/form-data request.
func multipartRequest(t *testing.T, path string, fields map[string]string, files ...formFile) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.name))
		header.Set("Content-Type", f.mime)
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("failed to create part: %v", err)
		}
		if _, err := part.Write(f.data); err != nil {
			t.Fatalf("failed to write part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%v'", expectedMessage, result["error"])
	}
}
