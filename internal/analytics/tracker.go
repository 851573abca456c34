// Package analytics records named product events with flat string parameters.
//
// Delivery is best-effort. A Tracker never returns an error to the caller and
// sinks that fail are logged and skipped.
package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/felixgeelhaar/bolt/v3"

	"github.com/pdftools/backend/internal/logging"
	"github.com/pdftools/backend/internal/models"
)

// Event names emitted by the service.
const (
	EventAppInitialized       = "app_initialized"
	EventPageView             = "page_view"
	EventToolSwitched         = "tool_switched"
	EventFileUploadAttempt    = "file_upload_attempt"
	EventCompressionCompleted = "compression_completed"
	EventCompressionError     = "compression_error"
	EventFileDownloaded       = "file_downloaded"
	EventToolCompleted        = "tool_completed"
	EventToolError            = "tool_error"
)

// Params is the flat parameter map attached to an event.
type Params map[string]string

// Tracker accepts events. Implementations must not block on network I/O.
type Tracker interface {
	Track(ctx context.Context, name string, params Params)
}

// Sink persists or forwards events. Errors are reported to the dispatcher only.
type Sink interface {
	Write(ctx context.Context, ev models.Event) error
	Close() error
}

type clientIDKey struct{}

// WithClientID tags events tracked under ctx with a client identifier.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientIDKey{}, id)
}

func clientIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(clientIDKey{}).(string)
	return id
}

// Dispatcher fans an event out to every sink.
type Dispatcher struct {
	sinks  []Sink
	logger *bolt.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a dispatcher over sinks.
func NewDispatcher(logger *bolt.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:  sinks,
		logger: logging.OrDefault(logger),
		now:    time.Now,
	}
}

// Track implements Tracker.
func (d *Dispatcher) Track(ctx context.Context, name string, params Params) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	ev := models.Event{
		Name:      name,
		Params:    copyParams(params),
		ClientID:  clientIDFrom(ctx),
		Timestamp: d.now().UTC(),
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for _, s := range d.sinks {
		if err := s.Write(ctx, ev); err != nil {
			logging.With(d.logger.Warn(), logging.Event(name), logging.ErrorField(err)).
				Msg("analytics sink rejected event")
		}
	}
}

// Close closes every sink. Events tracked after Close are dropped.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var firstErr error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func copyParams(p Params) map[string]string {
	if len(p) == 0 {
		return nil
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Nop discards every event.
type Nop struct{}

// Track implements Tracker.
func (Nop) Track(context.Context, string, Params) {}
