// Package facematch defines the face recognizer boundary and the per-target
// result records produced when a source face is searched for in target images.
package facematch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// BoundingBox is a face rectangle in relative (0-1) image coordinates.
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Face is a single detected face.
type Face struct {
	Index       int         `json:"index"`
	BoundingBox BoundingBox `json:"boundingBox"`
	Confidence  float64     `json:"confidence"`

	Embedding []float32 `json:"-"`
}

// FaceMatch is a target face whose similarity to the source reached the threshold.
type FaceMatch struct {
	Similarity float64 `json:"similarity"` // percent, 0-100
	Face       Face    `json:"face"`
}

// Comparison is what the recognizer reports for one source/target pair.
type Comparison struct {
	Matches   []FaceMatch
	Unmatched []Face
}

// Recognizer is the external face detection and comparison capability.
// Implementations must be safe for concurrent use.
type Recognizer interface {
	// DetectFaces returns every face found in the image (possibly none).
	DetectFaces(ctx context.Context, image []byte) ([]Face, error)
	// CompareFaces splits the target's faces into those matching a source face
	// at or above threshold (percent) and those that do not.
	CompareFaces(ctx context.Context, source, target []byte, threshold float64) (*Comparison, error)
}

// Fingerprint returns the hex SHA-256 of an image payload.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
