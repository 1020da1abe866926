// Package jobs holds chunked batch jobs in memory. Job state is process-local
// and is lost on restart.
package jobs

import (
	"maps"
	"slices"
	"time"

	"github.com/kozaktomas/face-batch/internal/facematch"
)

// Status represents the lifecycle state of a batch job.
type Status string

// Status constants define the lifecycle states of a batch job.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal returns true if no further chunks may be folded into the job.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is a snapshot of one chunked batch. Snapshots are copies; mutating one
// has no effect on the registry.
type Job struct {
	ID                string             `json:"id"`
	OwnerID           string             `json:"ownerId"`
	SourceFingerprint string             `json:"sourceFingerprint"`
	SourceMIMEType    string             `json:"sourceMimeType"`
	TotalChunks       int                `json:"totalChunks"`
	CompletedChunks   int                `json:"completedChunks"`
	FoldedIndexes     []int              `json:"foldedChunkIndexes,omitempty"`
	Status            Status             `json:"status"`
	Results           []facematch.Result `json:"results"`
	Errors            []string           `json:"errors"`
	Metadata          map[string]string  `json:"metadata,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`

	SourceImage []byte `json:"-"`
}

// Progress returns completion in percent, 100 for completed jobs.
func (j Job) Progress() int {
	if j.Status == StatusCompleted {
		return 100
	}
	if j.TotalChunks <= 0 {
		return 0
	}
	return min(100, j.CompletedChunks*100/j.TotalChunks)
}

// EstimateRemaining extrapolates the average chunk duration so far over the
// chunks still missing. The second value is false while no estimate exists.
func (j Job) EstimateRemaining() (time.Duration, bool) {
	if j.Status.IsTerminal() {
		return 0, true
	}
	if j.CompletedChunks == 0 {
		return 0, false
	}
	perChunk := j.UpdatedAt.Sub(j.CreatedAt) / time.Duration(j.CompletedChunks)
	return perChunk * time.Duration(j.TotalChunks-j.CompletedChunks), true
}

// snapshot copies the mutable parts so callers never share slices with the registry.
func (j *Job) snapshot() Job {
	out := *j
	out.Results = slices.Clone(j.Results)
	out.Errors = slices.Clone(j.Errors)
	out.FoldedIndexes = slices.Clone(j.FoldedIndexes)
	out.Metadata = maps.Clone(j.Metadata)
	return out
}
