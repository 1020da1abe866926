package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-batch/internal/facematch"
	"github.com/kozaktomas/face-batch/internal/imagecheck"
	"github.com/kozaktomas/face-batch/internal/logging"
)

func newTestOrchestrator(rec facematch.Recognizer, concurrency int) *Orchestrator {
	return NewOrchestrator(rec, Options{Concurrency: concurrency, Logger: logging.Discard()})
}

func TestCompareBatch_OutcomesInInputOrder(t *testing.T) {
	rec := newFakeRecognizer()
	source := testImage(1)
	rec.setFaces(source.Data, 1)

	matched := testImage(10)
	rec.setFaces(matched.Data, 2)

	noFace := testImage(11)
	rec.setFaces(noFace.Data, 0)

	timedOut := testImage(12)
	rec.failDetect(timedOut.Data, context.DeadlineExceeded)

	broken := testImage(13)
	rec.setFaces(broken.Data, 1)
	rec.failCompare(broken.Data, &facematch.CollaboratorError{Op: "compare", Status: 503, Err: errors.New("overloaded")})

	invalid := Image{Name: "tiny.png", Data: []byte("not an image"), MIMEType: "image/png"}

	orch := newTestOrchestrator(rec, 3)
	batch, err := orch.CompareBatch(context.Background(), source, []Image{matched, noFace, timedOut, broken, invalid})
	require.NoError(t, err)

	assert.Equal(t, 1, batch.SourceFaceCount)
	require.Len(t, batch.Results, 5)

	names := make([]string, len(batch.Results))
	for i, r := range batch.Results {
		names[i] = r.Target
		assert.NoError(t, r.Validate())
	}
	assert.Equal(t, []string{"img-10.png", "img-11.png", "img-12.png", "img-13.png", "tiny.png"}, names)

	assert.Equal(t, facematch.OutcomeMatched, batch.Results[0].Outcome)
	assert.Len(t, batch.Results[0].Matches, 2)
	assert.Equal(t, 2, batch.Results[0].TargetFaceCount)

	assert.Equal(t, facematch.OutcomeNoFace, batch.Results[1].Outcome)

	assert.Equal(t, facematch.OutcomeFailed, batch.Results[2].Outcome)
	assert.Equal(t, "timeout", batch.Results[2].Reason)

	assert.Equal(t, facematch.OutcomeFailed, batch.Results[3].Outcome)
	assert.Contains(t, batch.Results[3].Reason, "overloaded")

	assert.Equal(t, facematch.OutcomeFailed, batch.Results[4].Outcome)
	assert.Contains(t, batch.Results[4].Reason, "below the minimum")

	// Source once, then one detect per valid target; the invalid target is never sent.
	detect, compare := rec.calls()
	assert.Equal(t, 5, detect)
	assert.Equal(t, 2, compare)
}

func TestCompareBatch_NoSourceFaceSkipsTargets(t *testing.T) {
	rec := newFakeRecognizer()
	source := testImage(1)
	rec.setFaces(source.Data, 0)

	orch := newTestOrchestrator(rec, 0)
	_, err := orch.CompareBatch(context.Background(), source, []Image{testImage(2), testImage(3)})
	require.ErrorIs(t, err, ErrNoSourceFace)

	detect, compare := rec.calls()
	assert.Equal(t, 1, detect, "only the source is inspected")
	assert.Zero(t, compare)
}

func TestCompareBatch_SourceCollaboratorFailure(t *testing.T) {
	rec := newFakeRecognizer()
	source := testImage(1)
	rec.failDetect(source.Data, &facematch.CollaboratorError{Op: "detect", Status: 500, RequestID: "req-1", Err: errors.New("boom")})

	orch := newTestOrchestrator(rec, 0)
	_, err := orch.CompareBatch(context.Background(), source, []Image{testImage(2)})
	require.Error(t, err)

	var collabErr *facematch.CollaboratorError
	require.ErrorAs(t, err, &collabErr)
	assert.Equal(t, "req-1", collabErr.RequestID)

	detect, _ := rec.calls()
	assert.Equal(t, 1, detect)
}

func TestCompareBatch_InvalidSource(t *testing.T) {
	orch := newTestOrchestrator(newFakeRecognizer(), 0)

	_, err := orch.CompareBatch(context.Background(), Image{Data: []byte("x"), MIMEType: "image/png"}, []Image{testImage(2)})
	var validationErr *imagecheck.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "size", validationErr.Field)
	assert.Contains(t, err.Error(), "source image")
}

func TestCompareBatch_PanicBecomesFailed(t *testing.T) {
	rec := newFakeRecognizer()
	source := testImage(1)
	rec.setFaces(source.Data, 1)

	exploding := testImage(2)
	rec.panicOn(exploding.Data)
	fine := testImage(3)
	rec.setFaces(fine.Data, 1)

	orch := newTestOrchestrator(rec, 2)
	batch, err := orch.CompareBatch(context.Background(), source, []Image{exploding, fine})
	require.NoError(t, err)

	assert.Equal(t, facematch.OutcomeFailed, batch.Results[0].Outcome)
	assert.Contains(t, batch.Results[0].Reason, "recognizer exploded")
	assert.Equal(t, facematch.OutcomeMatched, batch.Results[1].Outcome)
}

func TestCompareBatch_BoundedConcurrency(t *testing.T) {
	rec := newFakeRecognizer()
	rec.delay = 5 * time.Millisecond
	source := testImage(1)
	rec.setFaces(source.Data, 1)

	targets := make([]Image, 12)
	for i := range targets {
		targets[i] = testImage(uint64(100 + i))
		rec.setFaces(targets[i].Data, 0)
	}

	orch := newTestOrchestrator(rec, 3)
	batch, err := orch.CompareBatch(context.Background(), source, targets)
	require.NoError(t, err)
	assert.Len(t, batch.Results, 12)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.LessOrEqual(t, rec.maxInFlight, 3)
}

func TestCompareBatch_IgnoresCancellationAfterStart(t *testing.T) {
	rec := newFakeRecognizer()
	source := testImage(1)
	rec.setFaces(source.Data, 1)
	target := testImage(2)
	rec.setFaces(target.Data, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sourceKey := facematch.Fingerprint(source.Data)
	rec.afterDetect = func(image []byte) {
		if facematch.Fingerprint(image) == sourceKey {
			cancel()
		}
	}

	orch := newTestOrchestrator(rec, 0)
	batch, err := orch.CompareBatch(ctx, source, []Image{target})
	require.NoError(t, err)
	assert.Equal(t, facematch.OutcomeMatched, batch.Results[0].Outcome)
}

func TestCompareBatch_TargetNames(t *testing.T) {
	rec := newFakeRecognizer()
	source := testImage(1)
	rec.setFaces(source.Data, 1)

	unnamed := testImage(2)
	unnamed.Name = ""
	nested := testImage(3)
	nested.Name = "holiday/2024/beach.png"

	orch := newTestOrchestrator(rec, 0)
	batch, err := orch.CompareBatch(context.Background(), source, []Image{unnamed, nested})
	require.NoError(t, err)

	assert.Equal(t, "target-1", batch.Results[0].Target)
	assert.Equal(t, "beach.png", batch.Results[1].Target)
}

func TestSummarize(t *testing.T) {
	results := []facematch.Result{
		facematch.Matched("a", 1, 2, []facematch.FaceMatch{{Similarity: 95}, {Similarity: 91}}, nil),
		facematch.Matched("b", 1, 1, []facematch.FaceMatch{{Similarity: 99}}, nil),
		facematch.NoMatch("c", 1, 1, nil),
		facematch.NoFaceDetected("d", 1),
		facematch.Failed("e", 1, "timeout"),
	}

	assert.Equal(t, Summary{
		TotalProcessed:        5,
		SuccessfulComparisons: 4,
		FailedComparisons:     1,
		TotalMatches:          3,
	}, Summarize(results))

	assert.Equal(t, Summary{}, Summarize(nil))
}
