// Package imagecheck rejects unusable images before any recognizer quota is spent.
package imagecheck

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/face-batch/internal/constants"
)

// Limits bounds what Validate accepts.
type Limits struct {
	MinSize     int64
	MaxSize     int64
	AllowedMIME []string
}

// DefaultLimits returns the 1 KiB - 5 MiB, JPEG/PNG limits.
func DefaultLimits() Limits {
	return Limits{
		MinSize:     constants.MinImageBytes,
		MaxSize:     constants.MaxImageBytes,
		AllowedMIME: []string{"image/jpeg", "image/png"},
	}
}

// ValidationError describes why an image was rejected.
type ValidationError struct {
	Field  string // "size", "mime_type" or "content"
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// formatByMIME maps MIME types to the format names image.DecodeConfig reports.
var formatByMIME = map[string]string{
	"image/jpeg": "jpeg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/bmp":  "bmp",
	"image/tiff": "tiff",
}

// NormalizeMIME lowercases a declared content type and strips parameters.
func NormalizeMIME(declared string) string {
	mimeType, _, _ := strings.Cut(declared, ";")
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// Validate checks size bounds, declared MIME type and that the payload really
// starts with an image of the declared type. It has no side effects.
func (l Limits) Validate(data []byte, declaredMIME string, size int64) error {
	if size < l.MinSize {
		return &ValidationError{
			Field: "size",
			Reason: fmt.Sprintf("image size %s (%d bytes) is below the minimum of %s (%d bytes)",
				humanize.IBytes(uint64(max(size, 0))), size, humanize.IBytes(uint64(l.MinSize)), l.MinSize),
		}
	}
	if size > l.MaxSize {
		return &ValidationError{
			Field: "size",
			Reason: fmt.Sprintf("image size %s (%d bytes) exceeds the maximum of %s (%d bytes)",
				humanize.IBytes(uint64(size)), size, humanize.IBytes(uint64(l.MaxSize)), l.MaxSize),
		}
	}

	mimeType := NormalizeMIME(declaredMIME)
	if !slices.Contains(l.AllowedMIME, mimeType) {
		return &ValidationError{
			Field: "mime_type",
			Reason: fmt.Sprintf("unsupported image type %q, allowed: %s",
				declaredMIME, strings.Join(l.AllowedMIME, ", ")),
		}
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return &ValidationError{Field: "content", Reason: "content is not a decodable image"}
	}
	if want, ok := formatByMIME[mimeType]; ok && want != format {
		return &ValidationError{
			Field:  "content",
			Reason: fmt.Sprintf("declared %s but content is %s", mimeType, format),
		}
	}

	return nil
}

// Validate checks an image against DefaultLimits.
func Validate(data []byte, declaredMIME string, size int64) error {
	return DefaultLimits().Validate(data, declaredMIME, size)
}
