package jobs

import (
	"sync"

	"github.com/kozaktomas/face-batch/internal/constants"
)

// Event types sent to subscribers.
const (
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// Event reports a change to a job.
type Event struct {
	Type            string `json:"type"`
	JobID           string `json:"jobId"`
	Status          Status `json:"status"`
	CompletedChunks int    `json:"completedChunks"`
	TotalChunks     int    `json:"totalChunks"`
	Progress        int    `json:"progress"`
	ChunkResults    int    `json:"chunkResults,omitempty"`
	TotalResults    int    `json:"totalResults"`
	Message         string `json:"message,omitempty"`
}

// Final reports whether no more events follow for the job.
func (e Event) Final() bool {
	return e.Status.IsTerminal()
}

func eventFor(j Job, chunkResults int) Event {
	typ := EventProgress
	switch j.Status {
	case StatusCompleted:
		typ = EventCompleted
	case StatusFailed:
		typ = EventFailed
	case StatusPending, StatusProcessing:
	}
	return Event{
		Type:            typ,
		JobID:           j.ID,
		Status:          j.Status,
		CompletedChunks: j.CompletedChunks,
		TotalChunks:     j.TotalChunks,
		Progress:        j.Progress(),
		ChunkResults:    chunkResults,
		TotalResults:    len(j.Results),
	}
}

// broadcaster fans job events out to per-job listener channels.
type broadcaster struct {
	mu        sync.Mutex
	listeners map[string][]chan Event
}

func newBroadcaster() *broadcaster {
	return &broadcaster{listeners: make(map[string][]chan Event)}
}

func (b *broadcaster) add(jobID string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	b.listeners[jobID] = append(b.listeners[jobID], ch)
	return ch
}

// remove closes ch unless a final event or a sweep already did.
func (b *broadcaster) remove(jobID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.listeners[jobID]
	for i, listener := range list {
		if listener == ch {
			b.listeners[jobID] = append(list[:i], list[i+1:]...)
			if len(b.listeners[jobID]) == 0 {
				delete(b.listeners, jobID)
			}
			close(ch)
			return
		}
	}
}

// publish delivers ev without blocking; a full listener misses the event.
// Listeners are closed after a final event.
func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, listener := range b.listeners[ev.JobID] {
		select {
		case listener <- ev:
		default:
			// Listener buffer full, skip.
		}
		if ev.Final() {
			close(listener)
		}
	}
	if ev.Final() {
		delete(b.listeners, ev.JobID)
	}
}

func (b *broadcaster) closeJob(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, listener := range b.listeners[jobID] {
		close(listener)
	}
	delete(b.listeners, jobID)
}

// Subscribe returns a channel of events for the job and a function releasing it.
// The channel is closed after the job's final event. Subscribing to a finished
// job yields a single final event.
func (r *Registry) Subscribe(id string) (<-chan Event, func(), error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Status.IsTerminal() {
		ch := make(chan Event, 1)
		ch <- eventFor(e.job.snapshot(), 0)
		close(ch)
		return ch, func() {}, nil
	}

	ch := r.events.add(id)
	return ch, func() { r.events.remove(id, ch) }, nil
}
