// Package batch compares one source face against many target images, either in
// a single synchronous call or as chunks folded into a registered job.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kozaktomas/face-batch/internal/constants"
	"github.com/kozaktomas/face-batch/internal/facematch"
	"github.com/kozaktomas/face-batch/internal/imagecheck"
)

// Image is one uploaded image.
type Image struct {
	Name     string
	Data     []byte
	MIMEType string
}

// Options configures an Orchestrator. Zero values fall back to defaults.
type Options struct {
	Threshold   float64 // similarity percent a target face must reach
	Concurrency int     // maximum targets compared at once
	Limits      imagecheck.Limits
	Logger      *slog.Logger
}

// Orchestrator drives every target of a batch through the recognizer.
type Orchestrator struct {
	recognizer  facematch.Recognizer
	threshold   float64
	concurrency int
	limits      imagecheck.Limits
	logger      *slog.Logger
}

// Batch is the outcome of CompareBatch. Results has one record per target in
// input order.
type Batch struct {
	SourceFaceCount int
	Results         []facematch.Result
}

// NewOrchestrator creates an orchestrator backed by rec.
func NewOrchestrator(rec facematch.Recognizer, opts Options) *Orchestrator {
	if opts.Threshold <= 0 {
		opts.Threshold = constants.DefaultSimilarityThreshold
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = constants.DefaultConcurrency
	}
	if opts.Limits.MaxSize == 0 {
		opts.Limits = imagecheck.DefaultLimits()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		recognizer:  rec,
		threshold:   opts.Threshold,
		concurrency: opts.Concurrency,
		limits:      opts.Limits,
		logger:      opts.Logger,
	}
}

// Threshold returns the similarity threshold in percent.
func (o *Orchestrator) Threshold() float64 {
	return o.threshold
}

// DetectSource validates the source image and returns its face count. A source
// without faces yields ErrNoSourceFace.
func (o *Orchestrator) DetectSource(ctx context.Context, source Image) (int, error) {
	if err := o.limits.Validate(source.Data, source.MIMEType, int64(len(source.Data))); err != nil {
		return 0, fmt.Errorf("source image: %w", err)
	}

	faces, err := o.recognizer.DetectFaces(ctx, source.Data)
	if err != nil {
		return 0, fmt.Errorf("detecting source faces: %w", err)
	}
	if len(faces) == 0 {
		return 0, ErrNoSourceFace
	}
	return len(faces), nil
}

// CompareBatch detects the source faces once and then compares every target
// concurrently. Per-target problems become failed records; only source problems
// fail the batch. Target work is not cancelled when ctx is.
func (o *Orchestrator) CompareBatch(ctx context.Context, source Image, targets []Image) (Batch, error) {
	sourceFaces, err := o.DetectSource(ctx, source)
	if err != nil {
		return Batch{}, err
	}

	ctx = context.WithoutCancel(ctx)
	results := make([]facematch.Result, len(targets))

	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup

	for i, target := range targets {
		name := facematch.NormalizeTargetName(target.Name)
		if name == "" {
			name = fmt.Sprintf("target-%d", i+1)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = o.compareTarget(ctx, source.Data, sourceFaces, name, target)
		}()
	}

	wg.Wait()

	return Batch{SourceFaceCount: sourceFaces, Results: results}, nil
}

func (o *Orchestrator) compareTarget(ctx context.Context, source []byte, sourceFaces int, name string, target Image) (result facematch.Result) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("target comparison panicked",
				slog.String("target", name),
				slog.Any("panic", p))
			result = facematch.Failed(name, sourceFaces, fmt.Sprintf("internal error: %v", p))
		}
	}()

	if err := o.limits.Validate(target.Data, target.MIMEType, int64(len(target.Data))); err != nil {
		return facematch.Failed(name, sourceFaces, err.Error())
	}

	faces, err := o.recognizer.DetectFaces(ctx, target.Data)
	if err != nil {
		o.logger.Warn("target detection failed", slog.String("target", name), slog.Any("error", err))
		return facematch.Failed(name, sourceFaces, facematch.FailureReason(err))
	}
	if len(faces) == 0 {
		return facematch.NoFaceDetected(name, sourceFaces)
	}

	cmp, err := o.recognizer.CompareFaces(ctx, source, target.Data, o.threshold)
	if err != nil {
		o.logger.Warn("target comparison failed", slog.String("target", name), slog.Any("error", err))
		return facematch.Failed(name, sourceFaces, facematch.FailureReason(err))
	}
	return facematch.FromComparison(name, sourceFaces, len(faces), cmp)
}
