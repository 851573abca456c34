package logging

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/stretchr/testify/assert"
)

func testLogger() (*bolt.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return bolt.New(bolt.NewJSONHandler(buf)).SetLevel(bolt.TRACE), buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected bolt.Level
	}{
		{"trace", bolt.TRACE},
		{"debug", bolt.DEBUG},
		{"info", bolt.INFO},
		{"warn", bolt.WARN},
		{"error", bolt.ERROR},
		{"bogus", bolt.INFO},
		{"", bolt.INFO},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestFields(t *testing.T) {
	logger, buf := testLogger()

	With(logger.Info(),
		SessionID("s-1"),
		Tool("compressor"),
		Phase("preview"),
		FileSize(2048),
		Duration(1500*time.Millisecond),
		Event("compression_completed"),
		Component("orchestrator"),
		ErrorField(errors.New("boom")),
	).Msg("fields")

	out := buf.String()
	assert.Contains(t, out, `"session_id":"s-1"`)
	assert.Contains(t, out, `"tool":"compressor"`)
	assert.Contains(t, out, `"phase":"preview"`)
	assert.Contains(t, out, `"file_size":2048`)
	assert.Contains(t, out, `"duration_ms":1500`)
	assert.Contains(t, out, `"event":"compression_completed"`)
	assert.Contains(t, out, "boom")
}

func TestErrorFieldNil(t *testing.T) {
	logger, buf := testLogger()
	With(logger.Info(), ErrorField(nil)).Msg("no error")
	assert.NotContains(t, buf.String(), `"error"`)
}

func TestNewWritesJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New(Config{Level: "debug", Format: "json", Output: buf})
	l.Debug().Str("k", "v").Msg("hello")
	assert.Contains(t, buf.String(), `"k":"v"`)
	assert.Contains(t, buf.String(), "hello")
}

func TestOrDefault(t *testing.T) {
	l := Discard()
	assert.Same(t, l, OrDefault(l))
	assert.NotNil(t, OrDefault(nil))
}
