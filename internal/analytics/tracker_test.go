package analytics

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdftools/backend/internal/logging"
	"github.com/pdftools/backend/internal/models"
)

type failingSink struct {
	writes int
	closed bool
}

func (f *failingSink) Write(context.Context, models.Event) error {
	f.writes++
	return errors.New("sink down")
}

func (f *failingSink) Close() error {
	f.closed = true
	return nil
}

func TestDispatcher_FansOutAndSwallowsErrors(t *testing.T) {
	mem := NewMemory(8)
	bad := &failingSink{}
	d := NewDispatcher(logging.Discard(), bad, mem)

	ctx := WithClientID(context.Background(), "client-1")
	d.Track(ctx, EventFileUploadAttempt, Params{"tool": "compressor", "file_size": "10"})

	assert.Equal(t, 1, bad.writes)
	events, err := mem.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventFileUploadAttempt, events[0].Name)
	assert.Equal(t, "client-1", events[0].ClientID)
	assert.Equal(t, "compressor", events[0].Params["tool"])
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestDispatcher_ParamsAreCopied(t *testing.T) {
	mem := NewMemory(4)
	d := NewDispatcher(logging.Discard(), mem)

	p := Params{"tool": "merge"}
	d.Track(context.Background(), EventToolSwitched, p)
	p["tool"] = "changed"

	events, _ := mem.Recent(context.Background(), 1)
	assert.Equal(t, "merge", events[0].Params["tool"])
}

func TestDispatcher_CloseStopsDelivery(t *testing.T) {
	mem := NewMemory(4)
	bad := &failingSink{}
	d := NewDispatcher(logging.Discard(), mem, bad)

	require.NoError(t, d.Close())
	assert.True(t, bad.closed)

	d.Track(context.Background(), EventPageView, nil)
	events, _ := mem.Recent(context.Background(), 10)
	assert.Empty(t, events)
	assert.NoError(t, d.Close())
}

func TestNop(t *testing.T) {
	var tr Tracker = Nop{}
	tr.Track(context.Background(), EventPageView, Params{"page_path": "/compressor"})
}

func TestLogSink(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewLogSink(bolt.New(bolt.NewJSONHandler(buf)).SetLevel(bolt.INFO))

	err := s.Write(context.Background(), models.Event{
		Name:     EventCompressionCompleted,
		ClientID: "c1",
		Params:   map[string]string{"original_size": "100", "compressed_size": "80"},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"event":"compression_completed"`)
	assert.Contains(t, out, `"p_original_size":"100"`)
	assert.Contains(t, out, `"client_id":"c1"`)
}

func TestMemory_RingAndCounts(t *testing.T) {
	mem := NewMemory(3)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c", "d", "d"} {
		require.NoError(t, mem.Write(ctx, models.Event{Name: name}))
	}

	events, err := mem.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "d", events[0].Name)
	assert.Equal(t, "d", events[1].Name)
	assert.Equal(t, "c", events[2].Name)

	counts, err := mem.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.EventCount{Name: "d", Count: 2}, counts[0])
	assert.Len(t, counts, 4)
}
