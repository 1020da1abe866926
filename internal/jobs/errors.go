package jobs

import "errors"

var (
	// ErrNotFound covers unknown ids and jobs already removed by the sweep.
	ErrNotFound = errors.New("job not found")
	// ErrJobTerminal is returned when mutating a completed or failed job.
	ErrJobTerminal = errors.New("job already finished")
	// ErrDuplicateChunk is returned when a chunk index has already been folded.
	ErrDuplicateChunk = errors.New("chunk already submitted")
	// ErrInvalidChunkIndex is returned for an index outside [0, totalChunks).
	ErrInvalidChunkIndex = errors.New("chunk index out of range")
	// ErrInvalidJob is returned by Create for unusable arguments.
	ErrInvalidJob = errors.New("invalid job")
)
