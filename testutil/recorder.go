// Package testutil holds fakes shared by package tests: a response recorder and a
// manually driven lease acquirer.
package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/c360/tuplestreams/event"
)

// Recorder is an event.Handler that keeps every response it receives.
// It is safe for concurrent use.
type Recorder struct {
	mu        sync.Mutex
	responses []event.Response
	changed   chan struct{}
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{changed: make(chan struct{})}
}

// Handle records resp.
func (r *Recorder) Handle(resp event.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, resp)
	close(r.changed)
	r.changed = make(chan struct{})
}

// Responses returns a copy of the recorded responses in arrival order.
func (r *Recorder) Responses() []event.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Response(nil), r.responses...)
}

// Len returns the number of recorded responses.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.responses)
}

// WaitFor blocks until at least n responses were recorded and returns them. It fails the
// test after timeout.
func (r *Recorder) WaitFor(t testing.TB, n int, timeout time.Duration) []event.Response {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		r.mu.Lock()
		if len(r.responses) >= n {
			out := append([]event.Response(nil), r.responses...)
			r.mu.Unlock()
			return out
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-changed:
		case <-deadline.C:
			t.Fatalf("timed out waiting for %d responses, got %d", n, r.Len())
			return nil
		}
	}
}

// Header returns a request header with a fresh ID whose responses go to r.
func (r *Recorder) Header() event.Header {
	return event.Header{ID: event.NewID(), Source: r}
}
