package facematch

import (
	"errors"
	"fmt"
)

// Outcome tags a Result. Exactly one outcome applies to every target.
type Outcome string

const (
	OutcomeMatched Outcome = "matched"          // at least one target face matched the source
	OutcomeNoMatch Outcome = "no_match"         // faces found, none similar enough
	OutcomeNoFace  Outcome = "no_face_detected" // nothing to compare, still a successful outcome
	OutcomeFailed  Outcome = "failed"           // validation or recognizer failure for this target
)

// Result is the record produced for one target image.
type Result struct {
	Target          string      `json:"target"`
	Outcome         Outcome     `json:"outcome"`
	Matches         []FaceMatch `json:"matches,omitempty"`
	UnmatchedFaces  []Face      `json:"unmatchedFaces,omitempty"`
	Reason          string      `json:"reason,omitempty"`
	SourceFaceCount int         `json:"sourceFaceCount"`
	TargetFaceCount int         `json:"targetFaceCount"`
}

// Matched builds a matched result. It falls back to NoMatch when matches is empty
// so a matched record always carries at least one match.
func Matched(target string, sourceFaces, targetFaces int, matches []FaceMatch, unmatched []Face) Result {
	if len(matches) == 0 {
		return NoMatch(target, sourceFaces, targetFaces, unmatched)
	}
	return Result{
		Target:          target,
		Outcome:         OutcomeMatched,
		Matches:         matches,
		UnmatchedFaces:  unmatched,
		SourceFaceCount: sourceFaces,
		TargetFaceCount: targetFaces,
	}
}

// NoMatch builds a result for a target whose faces all fell below the threshold.
func NoMatch(target string, sourceFaces, targetFaces int, unmatched []Face) Result {
	return Result{
		Target:          target,
		Outcome:         OutcomeNoMatch,
		UnmatchedFaces:  unmatched,
		SourceFaceCount: sourceFaces,
		TargetFaceCount: targetFaces,
	}
}

// NoFaceDetected builds a result for a target without any faces.
func NoFaceDetected(target string, sourceFaces int) Result {
	return Result{
		Target:          target,
		Outcome:         OutcomeNoFace,
		SourceFaceCount: sourceFaces,
	}
}

// Failed builds a failed result. An empty reason is replaced so the record stays valid.
func Failed(target string, sourceFaces int, reason string) Result {
	if reason == "" {
		reason = "unknown error"
	}
	return Result{
		Target:          target,
		Outcome:         OutcomeFailed,
		Reason:          reason,
		SourceFaceCount: sourceFaces,
	}
}

// FromComparison maps a recognizer comparison onto a Matched or NoMatch result.
func FromComparison(target string, sourceFaces, targetFaces int, cmp *Comparison) Result {
	if cmp == nil {
		return NoMatch(target, sourceFaces, targetFaces, nil)
	}
	return Matched(target, sourceFaces, targetFaces, cmp.Matches, cmp.Unmatched)
}

// Succeeded reports whether the comparison itself worked, regardless of whether
// anything matched.
func (r Result) Succeeded() bool {
	switch r.Outcome {
	case OutcomeMatched, OutcomeNoMatch, OutcomeNoFace:
		return true
	case OutcomeFailed:
		return false
	default:
		return false
	}
}

// Validate checks that exactly one outcome's fields are populated.
func (r Result) Validate() error {
	switch r.Outcome {
	case OutcomeMatched:
		if len(r.Matches) == 0 {
			return errors.New("matched result without matches")
		}
	case OutcomeNoMatch, OutcomeNoFace:
		if len(r.Matches) != 0 {
			return fmt.Errorf("%s result carries matches", r.Outcome)
		}
	case OutcomeFailed:
		if r.Reason == "" {
			return errors.New("failed result without reason")
		}
		if len(r.Matches) != 0 {
			return errors.New("failed result carries matches")
		}
		return nil
	default:
		return fmt.Errorf("unknown outcome %q", r.Outcome)
	}
	if r.Reason != "" {
		return fmt.Errorf("%s result carries a failure reason", r.Outcome)
	}
	return nil
}
