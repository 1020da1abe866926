package facematch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// CollaboratorError wraps a failed call to the face recognition service.
type CollaboratorError struct {
	Op        string // "detect" or "compare"
	Status    int    // HTTP status, 0 when no response was received
	RequestID string // recognizer request id, when the service returned one
	Err       error
}

func (e *CollaboratorError) Error() string {
	msg := fmt.Sprintf("recognizer %s failed", e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.RequestID != "" {
		msg += fmt.Sprintf(" [request %s]", e.RequestID)
	}
	return msg + ": " + e.Err.Error()
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err came from a call that ran out of time.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// FailureReason turns a recognizer error into the reason stored on a failed result.
func FailureReason(err error) string {
	if IsTimeout(err) {
		return "timeout"
	}
	return err.Error()
}
