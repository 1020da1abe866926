package batch

import "errors"

var (
	// ErrNoSourceFace is returned when the source image contains no face. The
	// whole batch is abandoned before any target is processed.
	ErrNoSourceFace = errors.New("no face detected in source image")
	// ErrInvalidChunk is returned for malformed chunk submissions.
	ErrInvalidChunk = errors.New("invalid chunk")
	// ErrInvalidRequest is returned for malformed job creation requests.
	ErrInvalidRequest = errors.New("invalid request")
)
