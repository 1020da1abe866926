package batch

import "github.com/kozaktomas/face-batch/internal/facematch"

// Summary aggregates a list of results.
type Summary struct {
	TotalProcessed        int `json:"totalProcessed"`
	SuccessfulComparisons int `json:"successfulComparisons"`
	FailedComparisons     int `json:"failedComparisons"`
	TotalMatches          int `json:"totalMatches"`
}

// Summarize counts outcomes. A target without faces is a successful comparison.
func Summarize(results []facematch.Result) Summary {
	s := Summary{TotalProcessed: len(results)}
	for _, r := range results {
		switch r.Outcome {
		case facematch.OutcomeMatched:
			s.SuccessfulComparisons++
			s.TotalMatches += len(r.Matches)
		case facematch.OutcomeNoMatch, facematch.OutcomeNoFace:
			s.SuccessfulComparisons++
		case facematch.OutcomeFailed:
			s.FailedComparisons++
		}
	}
	return s
}
