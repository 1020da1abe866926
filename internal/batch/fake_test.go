package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/face-batch/internal/facematch"
	"github.com/kozaktomas/face-batch/internal/imagecheck/imagetest"
)

// fakeRecognizer answers from tables keyed by image fingerprint.
type fakeRecognizer struct {
	mu sync.Mutex

	faces      map[string][]facematch.Face
	detectErr  map[string]error
	compareErr map[string]error
	panics     map[string]bool

	delay       time.Duration
	afterDetect func(image []byte)

	detectCalls  int
	compareCalls int
	inFlight     int
	maxInFlight  int
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{
		faces:      make(map[string][]facematch.Face),
		detectErr:  make(map[string]error),
		compareErr: make(map[string]error),
		panics:     make(map[string]bool),
	}
}

func (f *fakeRecognizer) setFaces(image []byte, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	faces := make([]facematch.Face, n)
	for i := range faces {
		faces[i] = facematch.Face{Index: i, Confidence: 0.99, Embedding: []float32{1, 0, 0}}
	}
	f.faces[facematch.Fingerprint(image)] = faces
}

func (f *fakeRecognizer) failDetect(image []byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detectErr[facematch.Fingerprint(image)] = err
}

func (f *fakeRecognizer) failCompare(image []byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compareErr[facematch.Fingerprint(image)] = err
}

func (f *fakeRecognizer) panicOn(image []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panics[facematch.Fingerprint(image)] = true
}

func (f *fakeRecognizer) calls() (detect, compare int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detectCalls, f.compareCalls
}

func (f *fakeRecognizer) enter() {
	f.mu.Lock()
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	f.mu.Unlock()
}

func (f *fakeRecognizer) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeRecognizer) DetectFaces(ctx context.Context, image []byte) ([]facematch.Face, error) {
	f.enter()
	defer f.leave()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := facematch.Fingerprint(image)
	f.mu.Lock()
	f.detectCalls++
	faces, err, boom, hook := f.faces[key], f.detectErr[key], f.panics[key], f.afterDetect
	f.mu.Unlock()

	if hook != nil {
		hook(image)
	}
	if boom {
		panic("recognizer exploded")
	}
	if err != nil {
		return nil, err
	}
	return faces, nil
}

func (f *fakeRecognizer) CompareFaces(ctx context.Context, source, target []byte, threshold float64) (*facematch.Comparison, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := facematch.Fingerprint(target)
	f.mu.Lock()
	f.compareCalls++
	err := f.compareErr[key]
	sourceFaces := f.faces[facematch.Fingerprint(source)]
	targetFaces := f.faces[key]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return facematch.CompareEmbeddings(sourceFaces, targetFaces, threshold), nil
}

// testImage returns a distinct valid PNG upload.
func testImage(seed uint64) Image {
	return Image{
		Name:     fmt.Sprintf("img-%d.png", seed),
		Data:     imagetest.PNG(seed, 32, 32),
		MIMEType: "image/png",
	}
}
