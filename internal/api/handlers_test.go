package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdftools/backend/internal/analytics"
	"github.com/pdftools/backend/internal/compress"
	"github.com/pdftools/backend/internal/logging"
	"github.com/pdftools/backend/internal/pdf"
	"github.com/pdftools/backend/internal/session"
	"github.com/pdftools/backend/internal/storage"
	"github.com/pdftools/backend/internal/testutil"
	"github.com/pdftools/backend/internal/tools"
	"github.com/pdftools/backend/internal/validator"
)

type testEnv struct {
	e        *echo.Echo
	store    *testutil.MockStorage
	links    *storage.Links
	sessions *session.Manager
	engine   *testutil.FakeEngine
	rec      *testutil.RecordingTracker
	events   *analytics.Memory
	loader   *tools.Loader
	router   *tools.Router
}

// envOptions overrides the defaults of newTestEnv.
type envOptions struct {
	linkTTL   time.Duration
	maxUpload int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, envOptions{})
}

func newTestEnvWith(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	if opts.linkTTL == 0 {
		opts.linkTTL = time.Minute
	}

	store := testutil.NewMockStorage()
	links := storage.NewLinks("/api/downloads/", opts.linkTTL)
	rec := testutil.NewRecordingTracker()
	pdfs := validator.New(validator.WithTracker(rec), validator.WithMaxSize(opts.maxUpload))
	images := validator.NewImage(validator.WithTracker(rec), validator.WithMaxSize(opts.maxUpload))
	sessions := session.NewManager(store, links, pdfs, session.Config{}, logging.Discard())

	engine := testutil.NewFakeEngine([]byte("%PDF-1.7 compressed"))
	orch := compress.New(engine, store, rec, compress.DefaultConfig(), logging.Discard())
	t.Cleanup(orch.Close)

	registry, err := tools.NewRegistry(logging.Discard())
	require.NoError(t, err)
	loader := tools.NewLoader(registry, t.TempDir(), time.Second, logging.Discard())
	router := tools.NewRouter(registry, loader, rec, logging.Discard())
	events := analytics.NewMemory(100)

	handlers := NewHandlers(&Dependencies{
		Store:        store,
		Links:        links,
		Sessions:     sessions,
		Orchestrator: orch,
		Router:       router,
		Loader:       loader,
		Operations: Operations{
			Engine:   pdf.NewPDFCPU(logging.Discard()),
			Text:     pdf.NewTextExtractor(),
			Renderer: pdf.NewRenderer(logging.Discard()),
			OCR:      pdf.NewOCR("eng", "", logging.Discard()),
		},
		OperationsCfg:  OperationsConfig{MaxImageDimension: 2000, RenderDPI: 72},
		PDFValidator:   pdfs,
		ImageValidator: images,
		Tracker:        rec,
		Events:         events,
		BreakerState:   func() string { return "closed" },
		Version:        "test",
		Logger:         logging.Discard(),
	})

	e := echo.New()
	SetupMiddleware(e, MiddlewareConfig{})
	RegisterRoutes(e, handlers)

	return &testEnv{
		e:        e,
		store:    store,
		links:    links,
		sessions: sessions,
		engine:   engine,
		rec:      rec,
		events:   events,
		loader:   loader,
		router:   router,
	}
}

func (env *testEnv) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) doJSON(t *testing.T, method, path string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if v != nil {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return env.do(method, path, body, echo.MIMEApplicationJSON)
}

func newJSONRequest(t *testing.T, path, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func record(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func serve(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	return record(e, httptest.NewRequest(method, path, nil))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, "closed", body["analytics"])
	assert.Equal(t, float64(0), body["sessions"])
}

func TestErrorHandler_UnknownRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "HTTP_ERROR", decode[APIError](t, rec).Code)
}
