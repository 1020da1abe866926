// Package constants provides shared constants used across the codebase.
package constants

import "time"

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// File upload constants
const (
	// MultipartMemory is how much of a multipart body is kept in memory before
	// spilling file parts to disk (32MB)
	MultipartMemory = 32 << 20

	// MaxRequestBytes caps a whole upload request: a full chunk of maximum
	// size targets plus the source (300MB)
	MaxRequestBytes = 300 << 20
)

// Job lifecycle constants
const (
	// DefaultJobRetention is how long terminal jobs are kept before the sweep removes them
	DefaultJobRetention = 24 * time.Hour

	// DefaultSweepInterval is how often the registry looks for expired jobs
	DefaultSweepInterval = time.Hour
)
