package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-batch/internal/batch"
	"github.com/kozaktomas/face-batch/internal/constants"
	"github.com/kozaktomas/face-batch/internal/jobs"
)

const metadataPrefix = "metadata."

// BatchHandler serves the batch comparison endpoints.
type BatchHandler struct {
	processor *batch.ChunkProcessor
	logger    *slog.Logger
}

// NewBatchHandler creates a new batch handler.
func NewBatchHandler(processor *batch.ChunkProcessor, logger *slog.Logger) *BatchHandler {
	return &BatchHandler{
		processor: processor,
		logger:    logger,
	}
}

// CreateJobResponse is returned when a chunked job is created.
type CreateJobResponse struct {
	JobID           string      `json:"jobId"`
	TotalBatches    int         `json:"totalBatches"`
	Status          jobs.Status `json:"status"`
	CreatedAt       time.Time   `json:"createdAt"`
	SourceFaceCount int         `json:"sourceFaceCount"`
}

// conflictResponse reports a rejected chunk together with the job's progress.
type conflictResponse struct {
	Error           string      `json:"error"`
	JobID           string      `json:"jobId"`
	CompletedChunks int         `json:"completedChunks"`
	TotalChunks     int         `json:"totalChunks"`
	Status          jobs.Status `json:"status"`
}

// jobSummary is a job without its result records.
type jobSummary struct {
	ID              string            `json:"id"`
	Status          jobs.Status       `json:"status"`
	CompletedChunks int               `json:"completedChunks"`
	TotalChunks     int               `json:"totalChunks"`
	Progress        int               `json:"progress"`
	Summary         batch.Summary     `json:"summary"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// parseUpload limits and parses a multipart request body.
func parseUpload(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBytes)
	if err := r.ParseMultipartForm(constants.MultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return errors.New("failed to parse multipart form")
	}
	return nil
}

// readImage loads one uploaded file into memory.
func readImage(fh *multipart.FileHeader) (batch.Image, error) {
	file, err := fh.Open()
	if err != nil {
		return batch.Image{}, fmt.Errorf("failed to open file: %s", fh.Filename)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return batch.Image{}, fmt.Errorf("failed to read file: %s", fh.Filename)
	}
	return batch.Image{
		Name:     fh.Filename,
		Data:     data,
		MIMEType: fh.Header.Get("Content-Type"),
	}, nil
}

func readImages(files []*multipart.FileHeader) ([]batch.Image, error) {
	images := make([]batch.Image, 0, len(files))
	for _, fh := range files {
		img, err := readImage(fh)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// readSource returns the single "source" file of a parsed form.
func readSource(form *multipart.Form) (batch.Image, error) {
	files := form.File["source"]
	if len(files) == 0 {
		return batch.Image{}, errors.New("source image is required")
	}
	if len(files) > 1 {
		return batch.Image{}, errors.New("exactly one source image is allowed")
	}
	return readImage(files[0])
}

// metadataFields collects the "metadata.<key>" form values.
func metadataFields(form *multipart.Form) map[string]string {
	var metadata map[string]string
	for key, values := range form.Value {
		name, ok := strings.CutPrefix(key, metadataPrefix)
		if !ok || name == "" || len(values) == 0 {
			continue
		}
		if metadata == nil {
			metadata = make(map[string]string)
		}
		metadata[name] = values[0]
	}
	return metadata
}

// CreateJob handles POST /batch-job.
func (h *BatchHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	if err := parseUpload(w, r); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	totalChunks, err := strconv.Atoi(r.FormValue("totalChunks"))
	if err != nil || totalChunks <= 0 {
		respondError(w, http.StatusBadRequest, "totalChunks must be a positive integer")
		return
	}

	source, err := readSource(r.MultipartForm)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.processor.CreateJob(r.Context(), batch.CreateJobRequest{
		OwnerID:     r.FormValue("userId"),
		Source:      source,
		TotalChunks: totalChunks,
		Metadata:    metadataFields(r.MultipartForm),
	})
	if err != nil {
		respondServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, CreateJobResponse{
		JobID:           created.Job.ID,
		TotalBatches:    created.Job.TotalChunks,
		Status:          created.Job.Status,
		CreatedAt:       created.Job.CreatedAt,
		SourceFaceCount: created.SourceFaceCount,
	})
}

// Compare handles POST /batch-compare. With a jobId field the targets are a
// chunk of that job; without one the source is part of the request and the
// batch runs synchronously.
func (h *BatchHandler) Compare(w http.ResponseWriter, r *http.Request) {
	if err := parseUpload(w, r); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	targets, err := readImages(r.MultipartForm.File["targets"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID := r.FormValue("jobId")
	if jobID == "" {
		h.compareSync(w, r, targets)
		return
	}

	req := batch.ChunkRequest{JobID: jobID, Targets: targets}
	if raw := r.FormValue("chunkIndex"); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "chunkIndex must be an integer")
			return
		}
		req.Index = &idx
	}

	resp, err := h.processor.SubmitChunk(r.Context(), req)
	if err != nil {
		if errors.Is(err, jobs.ErrJobTerminal) || errors.Is(err, jobs.ErrDuplicateChunk) {
			h.logger.Info("chunk rejected",
				slog.String("job_id", sanitizeForLog(jobID)),
				slog.Any("error", err))
			respondJSON(w, http.StatusConflict, conflictResponse{
				Error:           err.Error(),
				JobID:           resp.JobID,
				CompletedChunks: resp.CompletedChunks,
				TotalChunks:     resp.TotalChunks,
				Status:          resp.Status,
			})
			return
		}
		respondServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *BatchHandler) compareSync(w http.ResponseWriter, r *http.Request, targets []batch.Image) {
	source, err := readSource(r.MultipartForm)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.processor.CompareSync(r.Context(), source, targets)
	if err != nil {
		respondServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Status handles GET /batch-status/{jobId}.
func (h *BatchHandler) Status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	report, err := h.processor.Status(jobID)
	if err != nil {
		respondServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// ListJobs handles GET /batch-jobs. The optional userId query parameter
// restricts the list to one owner.
func (h *BatchHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	list := h.processor.Registry().List(r.URL.Query().Get("userId"))

	out := make([]jobSummary, 0, len(list))
	for _, job := range list {
		out = append(out, jobSummary{
			ID:              job.ID,
			Status:          job.Status,
			CompletedChunks: job.CompletedChunks,
			TotalChunks:     job.TotalChunks,
			Progress:        job.Progress(),
			Summary:         batch.Summarize(job.Results),
			Metadata:        job.Metadata,
			CreatedAt:       job.CreatedAt,
			UpdatedAt:       job.UpdatedAt,
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"jobs":  out,
		"count": len(out),
	})
}

// Stats handles GET /batch-stats.
func (h *BatchHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"jobs":    h.processor.Registry().Stats(),
		"metrics": h.processor.Metrics().GetSnapshot(),
	})
}
