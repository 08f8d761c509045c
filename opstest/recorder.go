// Package opstest provides reusable test doubles for asserting on the
// operation engine's defining property: ordering. It promotes the inline
// event-capturing test helper pattern seen in
// observability/observer_test.go's captureObserver to an exported
// package, since here every phase/hook/retry emits an event and tests
// routinely need to assert on the sequence, not just the count.
package opstest

import (
	"context"
	"sync"

	"github.com/ajpauwels/aspen/observability"
)

// Recorder is an observability.Observer that appends every event it
// receives to an internal, mutex-guarded slice.
type Recorder struct {
	mu     sync.Mutex
	events []observability.Event
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// OnEvent implements observability.Observer.
func (r *Recorder) OnEvent(ctx context.Context, event observability.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a snapshot of every event recorded so far.
func (r *Recorder) Events() []observability.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]observability.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns just the event type of every recorded event, in order —
// the shape most hook/phase ordering assertions want.
func (r *Recorder) Types() []observability.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]observability.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Reset discards every recorded event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
