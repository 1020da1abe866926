package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/kozaktomas/face-batch/internal/constants"
	"github.com/kozaktomas/face-batch/internal/facematch"
	"github.com/kozaktomas/face-batch/internal/jobs"
	"github.com/kozaktomas/face-batch/internal/metrics"
)

// ProcessorOptions configures a ChunkProcessor.
type ProcessorOptions struct {
	MaxTargetsPerChunk int
	Metrics            *metrics.Metrics
	Logger             *slog.Logger
}

// ChunkProcessor implements the job based protocol: create a job for a source
// image, then fold chunks of targets into it until every chunk has arrived.
type ChunkProcessor struct {
	orchestrator *Orchestrator
	registry     *jobs.Registry
	metrics      *metrics.Metrics
	maxTargets   int
	logger       *slog.Logger
}

// NewChunkProcessor wires an orchestrator to a registry.
func NewChunkProcessor(orch *Orchestrator, registry *jobs.Registry, opts ProcessorOptions) *ChunkProcessor {
	if opts.MaxTargetsPerChunk <= 0 {
		opts.MaxTargetsPerChunk = constants.DefaultMaxTargetsPerChunk
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ChunkProcessor{
		orchestrator: orch,
		registry:     registry,
		metrics:      opts.Metrics,
		maxTargets:   opts.MaxTargetsPerChunk,
		logger:       opts.Logger,
	}
}

// Registry returns the registry jobs are stored in.
func (p *ChunkProcessor) Registry() *jobs.Registry {
	return p.registry
}

// Metrics returns the processor's counters.
func (p *ChunkProcessor) Metrics() *metrics.Metrics {
	return p.metrics
}

// CreateJobRequest describes a new chunked job.
type CreateJobRequest struct {
	OwnerID     string
	Source      Image
	TotalChunks int
	Metadata    map[string]string
}

// CreatedJob is a freshly registered job.
type CreatedJob struct {
	Job             jobs.Job
	SourceFaceCount int
}

// CreateJob validates the source, checks it contains a face and registers the
// job. Nothing is registered when any step fails.
func (p *ChunkProcessor) CreateJob(ctx context.Context, req CreateJobRequest) (CreatedJob, error) {
	if req.OwnerID == "" {
		return CreatedJob{}, fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}
	if req.TotalChunks <= 0 {
		return CreatedJob{}, fmt.Errorf("%w: totalChunks must be a positive integer", ErrInvalidRequest)
	}

	faceCount, err := p.orchestrator.DetectSource(ctx, req.Source)
	if err != nil {
		return CreatedJob{}, err
	}

	job, err := p.registry.Create(req.OwnerID, req.Source.Data, req.Source.MIMEType, req.TotalChunks, req.Metadata)
	if err != nil {
		return CreatedJob{}, err
	}
	p.metrics.IncrementJobsCreated()

	p.logger.Info("batch job created",
		slog.String("job_id", job.ID),
		slog.String("owner_id", job.OwnerID),
		slog.Int("total_chunks", job.TotalChunks),
		slog.Int("source_faces", faceCount))

	return CreatedJob{Job: job, SourceFaceCount: faceCount}, nil
}

// ChunkRequest is one chunk of targets for a job. Index is optional; when set,
// a second submission with the same index is rejected.
type ChunkRequest struct {
	JobID   string
	Index   *int
	Targets []Image
}

// ChunkResponse reports a processed chunk, or a synchronous batch when IsChunk
// is false.
type ChunkResponse struct {
	JobID        string             `json:"jobId,omitempty"`
	ChunkResults []facematch.Result `json:"chunkResults"`
	Summary
	SourceFaceCount int         `json:"sourceFaceCount"`
	IsChunk         bool        `json:"isChunk"`
	CompletedChunks int         `json:"completedChunks,omitempty"`
	TotalChunks     int         `json:"totalChunks,omitempty"`
	Status          jobs.Status `json:"status,omitempty"`
}

func progressResponse(job jobs.Job) ChunkResponse {
	return ChunkResponse{
		JobID:           job.ID,
		ChunkResults:    []facematch.Result{},
		IsChunk:         true,
		CompletedChunks: job.CompletedChunks,
		TotalChunks:     job.TotalChunks,
		Status:          job.Status,
	}
}

func (p *ChunkProcessor) checkTargets(targets []Image) error {
	if len(targets) == 0 {
		return fmt.Errorf("%w: no target images supplied", ErrInvalidChunk)
	}
	if len(targets) > p.maxTargets {
		return fmt.Errorf("%w: %d targets exceed the limit of %d per request", ErrInvalidChunk, len(targets), p.maxTargets)
	}
	return nil
}

// SubmitChunk compares a chunk of targets against the job's source and folds
// the results into the job. Terminal jobs and already folded indexes are
// rejected before any recognizer work; the returned response then carries the
// job's current progress.
func (p *ChunkProcessor) SubmitChunk(ctx context.Context, req ChunkRequest) (ChunkResponse, error) {
	if req.JobID == "" {
		return ChunkResponse{}, fmt.Errorf("%w: jobId is required", ErrInvalidChunk)
	}
	if err := p.checkTargets(req.Targets); err != nil {
		return ChunkResponse{}, err
	}

	job, err := p.registry.Get(req.JobID)
	if err != nil {
		return ChunkResponse{}, err
	}
	if job.Status.IsTerminal() {
		return progressResponse(job), jobs.ErrJobTerminal
	}
	if req.Index != nil {
		idx := *req.Index
		if idx < 0 || idx >= job.TotalChunks {
			return progressResponse(job), fmt.Errorf("%w: %d not in [0, %d)", jobs.ErrInvalidChunkIndex, idx, job.TotalChunks)
		}
		if slices.Contains(job.FoldedIndexes, idx) {
			p.metrics.IncrementDuplicateChunks()
			return progressResponse(job), fmt.Errorf("%w: index %d", jobs.ErrDuplicateChunk, idx)
		}
	}

	start := time.Now()
	source := Image{Name: "source", Data: job.SourceImage, MIMEType: job.SourceMIMEType}
	batch, err := p.orchestrator.CompareBatch(ctx, source, req.Targets)
	if errors.Is(err, ErrNoSourceFace) {
		if failed, markErr := p.registry.MarkFailed(job.ID, err.Error()); markErr == nil {
			return progressResponse(failed), err
		}
		return progressResponse(job), err
	}
	if err != nil {
		p.logger.Error("chunk processing failed", slog.String("job_id", job.ID), slog.Any("error", err))
		return progressResponse(job), fmt.Errorf("processing chunk: %w", err)
	}

	var chunkErrors []string
	for _, r := range batch.Results {
		if r.Outcome == facematch.OutcomeFailed {
			chunkErrors = append(chunkErrors, fmt.Sprintf("target %s: %s", r.Target, r.Reason))
		}
	}

	updated, err := p.registry.FoldChunk(job.ID, jobs.Chunk{
		Index:   req.Index,
		Results: batch.Results,
		Errors:  chunkErrors,
	})
	if err != nil {
		// A concurrent submission finished or duplicated the chunk meanwhile.
		if errors.Is(err, jobs.ErrDuplicateChunk) {
			p.metrics.IncrementDuplicateChunks()
		}
		return progressResponse(updated), err
	}
	p.metrics.IncrementChunksFolded()
	p.metrics.RecordResults(batch.Results)

	p.logger.Info("chunk folded",
		slog.String("job_id", updated.ID),
		slog.Int("targets", len(batch.Results)),
		slog.Int("completed_chunks", updated.CompletedChunks),
		slog.Int("total_chunks", updated.TotalChunks),
		slog.String("status", string(updated.Status)),
		slog.Duration("elapsed", time.Since(start)))

	resp := progressResponse(updated)
	resp.ChunkResults = batch.Results
	resp.Summary = Summarize(batch.Results)
	resp.SourceFaceCount = batch.SourceFaceCount
	return resp, nil
}

// CompareSync runs a whole batch in one call without registering a job.
func (p *ChunkProcessor) CompareSync(ctx context.Context, source Image, targets []Image) (ChunkResponse, error) {
	if err := p.checkTargets(targets); err != nil {
		return ChunkResponse{}, err
	}

	batch, err := p.orchestrator.CompareBatch(ctx, source, targets)
	if err != nil {
		return ChunkResponse{}, err
	}
	p.metrics.IncrementSyncBatches()
	p.metrics.RecordResults(batch.Results)

	return ChunkResponse{
		ChunkResults:    batch.Results,
		Summary:         Summarize(batch.Results),
		SourceFaceCount: batch.SourceFaceCount,
	}, nil
}

// StatusReport is the polling view of a job.
type StatusReport struct {
	Job                    jobs.Job `json:"job"`
	Progress               int      `json:"progress"`
	EstimatedTimeRemaining *int64   `json:"estimatedTimeRemaining"` // seconds; null while unknown
	Summary                Summary  `json:"summary"`
}

// Status returns the current view of a job. Unknown ids yield jobs.ErrNotFound.
func (p *ChunkProcessor) Status(jobID string) (StatusReport, error) {
	job, err := p.registry.Get(jobID)
	if err != nil {
		return StatusReport{}, err
	}

	report := StatusReport{
		Job:      job,
		Progress: job.Progress(),
		Summary:  Summarize(job.Results),
	}
	if remaining, ok := job.EstimateRemaining(); ok {
		secs := int64(remaining.Round(time.Second) / time.Second)
		report.EstimatedTimeRemaining = &secs
	}
	return report, nil
}
