package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/pdftools/backend/internal/analytics"
	"github.com/pdftools/backend/internal/models"
)

// RecordingTracker keeps every tracked event in memory.
type RecordingTracker struct {
	mu     sync.Mutex
	events []models.Event
}

// NewRecordingTracker creates an empty recorder.
func NewRecordingTracker() *RecordingTracker {
	return &RecordingTracker{}
}

// Track implements analytics.Tracker.
func (r *RecordingTracker) Track(_ context.Context, name string, params analytics.Params) {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := make(map[string]string, len(params))
	for k, v := range params {
		copied[k] = v
	}
	r.events = append(r.events, models.Event{Name: name, Params: copied, Timestamp: time.Now()})
}

// Events returns a copy of everything recorded so far.
func (r *RecordingTracker) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

// Named returns the recorded events with the given name.
func (r *RecordingTracker) Named(name string) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Reset drops recorded events.
func (r *RecordingTracker) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var _ analytics.Tracker = (*RecordingTracker)(nil)
