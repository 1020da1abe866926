// Package metrics keeps process-local counters for batch comparisons.
package metrics

import (
	"sync"

	"github.com/kozaktomas/face-batch/internal/facematch"
)

// Metrics tracks system metrics
type Metrics struct {
	mu sync.RWMutex

	jobsCreated     int64
	chunksFolded    int64
	duplicateChunks int64
	syncBatches     int64
	totalMatches    int64
	outcomes        map[facematch.Outcome]int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{outcomes: make(map[facematch.Outcome]int64)}
}

// IncrementJobsCreated increments the created jobs counter
func (m *Metrics) IncrementJobsCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsCreated++
}

// IncrementChunksFolded increments the folded chunks counter
func (m *Metrics) IncrementChunksFolded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunksFolded++
}

// IncrementDuplicateChunks counts chunk resubmissions rejected by index
func (m *Metrics) IncrementDuplicateChunks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicateChunks++
}

// IncrementSyncBatches counts non-chunked comparisons
func (m *Metrics) IncrementSyncBatches() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncBatches++
}

// RecordResults counts each result by outcome.
func (m *Metrics) RecordResults(results []facematch.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range results {
		m.outcomes[r.Outcome]++
		m.totalMatches += int64(len(r.Matches))
	}
}

// GetSnapshot returns a snapshot of all metrics
func (m *Metrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int64{
		"jobs_created":             m.jobsCreated,
		"chunks_folded":            m.chunksFolded,
		"duplicate_chunks":         m.duplicateChunks,
		"sync_batches":             m.syncBatches,
		"total_matches":            m.totalMatches,
		"targets_matched":          m.outcomes[facematch.OutcomeMatched],
		"targets_no_match":         m.outcomes[facematch.OutcomeNoMatch],
		"targets_no_face_detected": m.outcomes[facematch.OutcomeNoFace],
		"targets_failed":           m.outcomes[facematch.OutcomeFailed],
	}
}
