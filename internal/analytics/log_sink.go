package analytics

import (
	"context"
	"sort"

	"github.com/felixgeelhaar/bolt/v3"

	"github.com/pdftools/backend/internal/logging"
	"github.com/pdftools/backend/internal/models"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *bolt.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *bolt.Logger) *LogSink {
	return &LogSink{logger: logging.OrDefault(logger)}
}

// Write implements Sink.
func (s *LogSink) Write(_ context.Context, ev models.Event) error {
	e := logging.With(s.logger.Info(), logging.Event(ev.Name))
	if ev.ClientID != "" {
		e = e.Str("client_id", ev.ClientID)
	}

	keys := make([]string, 0, len(ev.Params))
	for k := range ev.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e = e.Str("p_"+k, ev.Params[k])
	}
	e.Msg("analytics event")
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }
