package compress

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdftools/backend/internal/analytics"
	"github.com/pdftools/backend/internal/config"
	"github.com/pdftools/backend/internal/logging"
	"github.com/pdftools/backend/internal/models"
	"github.com/pdftools/backend/internal/pdf"
	"github.com/pdftools/backend/internal/session"
	"github.com/pdftools/backend/internal/storage"
	"github.com/pdftools/backend/internal/testutil"
)

type harness struct {
	o      *Orchestrator
	engine *testutil.FakeEngine
	store  *testutil.MockStorage
	rec    *testutil.RecordingTracker
}

func newHarness(t *testing.T, out []byte, cfg Config) *harness {
	t.Helper()
	engine := testutil.NewFakeEngine(out)
	store := testutil.NewMockStorage()
	rec := testutil.NewRecordingTracker()
	o := New(engine, store, rec, cfg, logging.Discard())
	t.Cleanup(o.Close)
	return &harness{o: o, engine: engine, store: store, rec: rec}
}

func (h *harness) job(data []byte) Job {
	file := h.store.AddFile("upload-1", "report.pdf", data)
	return Job{SessionID: "s1", Tool: "compressor", File: file}
}

func TestRun_Success(t *testing.T) {
	h := newHarness(t, []byte(strings.Repeat("x", 600)), DefaultConfig())

	var statuses []string
	result, err := h.o.Run(context.Background(), h.job([]byte(strings.Repeat("y", 1000))), func(s string, _ float64) {
		statuses = append(statuses, s)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{StatusReading, StatusAnalyzing, StatusCompressing, StatusFinalizing}, statuses)
	assert.Equal(t, "report-compressed.pdf", result.DownloadName)
	assert.Equal(t, int64(1000), result.OriginalSize)
	assert.Equal(t, int64(600), result.CompressedSize)
	assert.Equal(t, 40.0, result.Percent)
	assert.Equal(t, "Reduced by 40.0% • Saved 400 Bytes", result.Summary)

	stored, err := h.store.GetFileData(result.FileID)
	require.NoError(t, err)
	assert.Len(t, stored, 600)

	opts := h.engine.LastOptions()
	assert.True(t, opts.UseObjectStreams)
	assert.False(t, opts.AddDefaultPage)
	assert.Equal(t, 50, opts.ObjectsPerTick)

	events := h.rec.Named(analytics.EventCompressionCompleted)
	require.Len(t, events, 1)
	assert.Equal(t, "compressor", events[0].Params["tool"])
	assert.Equal(t, "1000", events[0].Params["original_size"])
	assert.Equal(t, "600", events[0].Params["compressed_size"])
	assert.Regexp(t, `^\d+\.\d{2}$`, events[0].Params["compression_time"])
}

func TestRun_AlreadyOptimized(t *testing.T) {
	h := newHarness(t, []byte(strings.Repeat("x", 1200)), DefaultConfig())

	result, err := h.o.Run(context.Background(), h.job([]byte(strings.Repeat("y", 1000))), nil)
	require.NoError(t, err)
	assert.True(t, result.AlreadyOptimized)
	assert.Zero(t, result.Percent)
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		kind    pdf.Kind
		message string
	}{
		{
			name:    "parse",
			setup:   func(h *harness) { h.engine.LoadErr = &pdf.Error{Kind: pdf.KindParse, Op: "load", Err: errors.New("bad xref")} },
			kind:    pdf.KindParse,
			message: MessagePrefix + MsgCorrupted,
		},
		{
			name:    "encrypted",
			setup:   func(h *harness) { h.engine.LoadErr = &pdf.Error{Kind: pdf.KindEncrypted, Op: "load"} },
			kind:    pdf.KindEncrypted,
			message: MessagePrefix + MsgEncrypted,
		},
		{
			name:    "read",
			setup:   func(h *harness) { h.store.ReadErr = errors.New("disk gone") },
			kind:    pdf.KindRead,
			message: MessagePrefix + "Please try again with a different PDF file. Error: disk gone",
		},
		{
			name:    "panic",
			setup:   func(h *harness) { h.engine.SavePanic = "boom" },
			kind:    pdf.KindUnknown,
			message: MessagePrefix + "Please try again with a different PDF file. Error: panic: boom",
		},
		{
			name: "low memory",
			setup: func(h *harness) {
				h.o.cfg.MinFreeMemory = 1 << 30
				h.o.memory = func() (uint64, error) { return 1 << 20, nil }
			},
			kind:    pdf.KindResource,
			message: MessagePrefix + MsgResource,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, []byte("out"), DefaultConfig())
			tt.setup(h)

			_, err := h.o.Run(context.Background(), h.job([]byte("%PDF-1.7")), nil)
			require.Error(t, err)
			assert.Equal(t, tt.kind, Classify(err))
			assert.Equal(t, tt.message, UserMessage(err))

			events := h.rec.Named(analytics.EventCompressionError)
			require.Len(t, events, 1)
			assert.Equal(t, "compressor", events[0].Params["tool"])
			assert.NotEmpty(t, events[0].Params["error_message"])
			assert.Equal(t, 0, h.store.CountKind(models.FileKindResult))
		})
	}
}

func TestRun_Pacing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pacing = Pacing{Analyze: 20 * time.Millisecond, Compress: 20 * time.Millisecond, Finalize: 20 * time.Millisecond}
	h := newHarness(t, []byte("o"), cfg)

	start := time.Now()
	_, err := h.o.Run(context.Background(), h.job([]byte("input")), nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestStart_DrivesSession(t *testing.T) {
	h := newHarness(t, []byte("ok"), DefaultConfig())
	links := storage.NewLinks("/api/downloads/", time.Minute)
	mgr := session.NewManager(h.store, links, nil, session.Config{}, logging.Discard())

	view, err := mgr.Create("compressor")
	require.NoError(t, err)

	// compress without a file is refused before any work starts
	assert.ErrorIs(t, h.o.Start(mgr, view.ID), session.ErrNoFile)

	_, err = mgr.AcceptFile(context.Background(), view.ID, "a.pdf", "application/pdf", 8, strings.NewReader("%PDF-1.7"))
	require.NoError(t, err)

	release := h.engine.Block()
	require.NoError(t, h.o.Start(mgr, view.ID))

	got, _ := mgr.Get(view.ID)
	assert.Equal(t, models.PhaseProcessing, got.Phase)
	assert.ErrorIs(t, h.o.Start(mgr, view.ID), session.ErrInvalidTransition)

	release()
	h.o.Wait()

	got, _ = mgr.Get(view.ID)
	assert.Equal(t, models.PhaseResults, got.Phase)
	require.NotNil(t, got.Result)
	assert.Equal(t, "a-compressed.pdf", got.Result.DownloadName)
	assert.Equal(t, StatusFinalizing, got.StatusText)
}

func TestStart_FailureShowsError(t *testing.T) {
	h := newHarness(t, nil, DefaultConfig())
	h.engine.LoadErr = &pdf.Error{Kind: pdf.KindEncrypted, Op: "load"}
	mgr := session.NewManager(h.store, nil, nil, session.Config{}, logging.Discard())

	view, _ := mgr.Create("compressor")
	_, err := mgr.AcceptFile(context.Background(), view.ID, "a.pdf", "application/pdf", 8, strings.NewReader("%PDF-1.7"))
	require.NoError(t, err)

	require.NoError(t, h.o.Start(mgr, view.ID))
	h.o.Wait()

	got, _ := mgr.Get(view.ID)
	assert.Equal(t, models.PhaseError, got.Phase)
	assert.Equal(t, MessagePrefix+MsgEncrypted, got.ErrorMessage)
	assert.True(t, got.ScrollToTop)
}

func TestConfigFrom(t *testing.T) {
	app := config.DefaultConfig()
	cfg := ConfigFrom(app)
	assert.Equal(t, 300*time.Millisecond, cfg.Pacing.Analyze)
	assert.Equal(t, 200*time.Millisecond, cfg.Pacing.Finalize)
	assert.Equal(t, 3, cfg.MaxConcurrent)
	assert.Equal(t, 50, cfg.SaveOptions.ObjectsPerTick)

	app.Processing.PacingEnabled = false
	assert.Zero(t, ConfigFrom(app).Pacing.Analyze)
}
