// Package constants provides shared constants used across the codebase.
package constants

// Face matching constants
const (
	// DefaultSimilarityThreshold is the minimum similarity (percent) for a target
	// face to count as a match against the source.
	DefaultSimilarityThreshold = 90.0
)

// Processing constants
const (
	// DefaultConcurrency is the default number of target comparisons in flight per batch
	DefaultConcurrency = 10

	// DefaultMaxTargetsPerChunk bounds a single chunk submission
	DefaultMaxTargetsPerChunk = 50
)

// Image validation constants
const (
	// MinImageBytes is the smallest accepted image payload (1 KiB)
	MinImageBytes = 1 << 10

	// MaxImageBytes is the largest accepted image payload (5 MiB)
	MaxImageBytes = 5 << 20
)
