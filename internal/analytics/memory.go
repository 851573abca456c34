package analytics

import (
	"context"
	"sort"
	"sync"

	"github.com/pdftools/backend/internal/models"
)

// Reader exposes recorded events to the API.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]models.Event, error)
	Counts(ctx context.Context) ([]models.EventCount, error)
}

// Memory is a fixed-size ring of recent events. It is the reader used when
// the DuckDB store is disabled.
type Memory struct {
	mu     sync.RWMutex
	events []models.Event
	next   int
	full   bool
	counts map[string]int64
}

// NewMemory creates a ring holding up to capacity events.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 256
	}
	return &Memory{
		events: make([]models.Event, capacity),
		counts: make(map[string]int64),
	}
}

// Write implements Sink.
func (m *Memory) Write(_ context.Context, ev models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[m.next] = ev
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	m.counts[ev.Name]++
	return nil
}

// Close implements Sink.
func (m *Memory) Close() error { return nil }

// Recent implements Reader.
func (m *Memory) Recent(_ context.Context, limit int) ([]models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	size := m.next
	if m.full {
		size = len(m.events)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]models.Event, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (m.next - 1 - i + len(m.events)) % len(m.events)
		out = append(out, m.events[idx])
	}
	return out, nil
}

// Counts implements Reader. Counts cover every event seen, not only the retained ones.
func (m *Memory) Counts(_ context.Context) ([]models.EventCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.EventCount, 0, len(m.counts))
	for name, n := range m.counts {
		out = append(out, models.EventCount{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
