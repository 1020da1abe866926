package jobs

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-batch/internal/constants"
	"github.com/kozaktomas/face-batch/internal/facematch"
)

// entry guards one job. Folds for different jobs never contend on the same lock.
type entry struct {
	mu   sync.Mutex
	job  Job
	seen map[int]struct{}
}

// Chunk is one submission's contribution to a job.
type Chunk struct {
	Index   *int // optional; folds with an index already seen are rejected
	Results []facematch.Result
	Errors  []string
}

// Stats holds job counts by status.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// Registry is the single authority for job mutation. It owns a background sweep
// that removes finished jobs once they are older than the retention window.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*entry

	now           func() time.Time
	retention     time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger

	events *broadcaster

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithRetention sets how long terminal jobs survive the sweep.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) { r.retention = d }
}

// WithSweepInterval sets how often the background sweep runs. Zero disables it.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) { r.sweepInterval = d }
}

// WithLogger sets the logger used by the sweep.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a registry and starts its sweep loop.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		jobs:          make(map[string]*entry),
		now:           time.Now,
		retention:     constants.DefaultJobRetention,
		sweepInterval: constants.DefaultSweepInterval,
		logger:        slog.Default(),
		events:        newBroadcaster(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.sweepInterval > 0 {
		go r.sweepLoop()
	} else {
		close(r.done)
	}
	return r
}

// Stop halts the sweep loop and waits for it to exit. Safe to call more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Registry) sweepLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if removed := r.SweepExpired(r.retention); removed > 0 {
				r.logger.Info("swept expired jobs", slog.Int("removed", removed))
			}
		}
	}
}

// Create stores a new pending job and returns its snapshot.
func (r *Registry) Create(ownerID string, source []byte, sourceMIME string, totalChunks int, metadata map[string]string) (Job, error) {
	if totalChunks <= 0 {
		return Job{}, fmt.Errorf("%w: totalChunks must be positive, got %d", ErrInvalidJob, totalChunks)
	}
	if len(source) == 0 {
		return Job{}, fmt.Errorf("%w: source image is empty", ErrInvalidJob)
	}

	now := r.now()
	e := &entry{
		job: Job{
			ID:                uuid.New().String(),
			OwnerID:           ownerID,
			SourceFingerprint: facematch.Fingerprint(source),
			SourceMIMEType:    sourceMIME,
			TotalChunks:       totalChunks,
			Status:            StatusPending,
			Results:           []facematch.Result{},
			Errors:            []string{},
			Metadata:          metadata,
			CreatedAt:         now,
			UpdatedAt:         now,
			SourceImage:       source,
		},
		seen: make(map[int]struct{}),
	}
	snap := e.job.snapshot()

	r.mu.Lock()
	r.jobs[e.job.ID] = e
	r.mu.Unlock()

	return snap, nil
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.snapshot(), nil
}

// FoldChunk atomically counts one more completed chunk, appends its results and
// errors and recomputes the status. Rejected folds leave the job untouched and
// return its current snapshot alongside the error.
func (r *Registry) FoldChunk(id string, chunk Chunk) (Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, err
	}

	e.mu.Lock()
	job := &e.job
	if job.Status.IsTerminal() {
		snap := job.snapshot()
		e.mu.Unlock()
		return snap, ErrJobTerminal
	}
	if chunk.Index != nil {
		idx := *chunk.Index
		if idx < 0 || idx >= job.TotalChunks {
			snap := job.snapshot()
			e.mu.Unlock()
			return snap, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidChunkIndex, idx, job.TotalChunks)
		}
		if _, dup := e.seen[idx]; dup {
			snap := job.snapshot()
			e.mu.Unlock()
			return snap, fmt.Errorf("%w: index %d", ErrDuplicateChunk, idx)
		}
		e.seen[idx] = struct{}{}
		job.FoldedIndexes = append(job.FoldedIndexes, idx)
	}

	job.CompletedChunks++
	job.Results = append(job.Results, chunk.Results...)
	job.Errors = append(job.Errors, chunk.Errors...)
	if job.CompletedChunks >= job.TotalChunks {
		job.Status = StatusCompleted
	} else {
		job.Status = StatusProcessing
	}
	job.UpdatedAt = r.now()
	snap := job.snapshot()
	e.mu.Unlock()

	r.events.publish(eventFor(snap, len(chunk.Results)))
	return snap, nil
}

// MarkFailed force-transitions a non-terminal job to failed and records reason.
func (r *Registry) MarkFailed(id, reason string) (Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, err
	}

	e.mu.Lock()
	job := &e.job
	if job.Status.IsTerminal() {
		snap := job.snapshot()
		e.mu.Unlock()
		return snap, ErrJobTerminal
	}
	job.Status = StatusFailed
	job.Errors = append(job.Errors, reason)
	job.UpdatedAt = r.now()
	snap := job.snapshot()
	e.mu.Unlock()

	ev := eventFor(snap, 0)
	ev.Message = reason
	r.events.publish(ev)
	return snap, nil
}

// SweepExpired removes terminal jobs not updated within retention and returns
// how many were removed. Non-terminal jobs are never removed.
func (r *Registry) SweepExpired(retention time.Duration) int {
	cutoff := r.now().Add(-retention)

	r.mu.Lock()
	var removed []string
	for id, e := range r.jobs {
		e.mu.Lock()
		expired := e.job.Status.IsTerminal() && e.job.UpdatedAt.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(r.jobs, id)
			removed = append(removed, id)
		}
	}
	r.mu.Unlock()

	for _, id := range removed {
		r.events.closeJob(id)
	}
	return len(removed)
}

// Stats returns job counts by status.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Stats
	for _, e := range r.jobs {
		e.mu.Lock()
		status := e.job.Status
		e.mu.Unlock()

		switch status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
		s.Total++
	}
	return s
}

// List returns snapshots of every job owned by ownerID, newest first. An empty
// ownerID lists all jobs.
func (r *Registry) List(ownerID string) []Job {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if ownerID == "" || e.job.OwnerID == ownerID {
			out = append(out, e.job.snapshot())
		}
		e.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
