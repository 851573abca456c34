package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdftools/backend/internal/config"
	"github.com/pdftools/backend/internal/logging"
	"github.com/pdftools/backend/internal/testutil"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := New().WithOutput(&stdout, &stderr).ExecuteWithArgs(context.Background(), args)
	return stdout.String(), stderr.String(), err
}

func TestApp_Version(t *testing.T) {
	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pdftools version")
}

func TestApp_Help(t *testing.T) {
	out, _, err := run(t, "--help")
	require.NoError(t, err)
	for _, cmd := range []string{"serve", "compress", "tools"} {
		assert.Contains(t, out, cmd)
	}
}

func TestApp_Tools(t *testing.T) {
	out, _, err := run(t, "tools")
	require.NoError(t, err)

	assert.Contains(t, out, "Tools (8):")
	assert.Contains(t, out, "* compressor")
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, " merge ") {
			assert.Contains(t, line, "ready")
		}
	}
}

func TestApp_ToolsBadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tools: []\n"), 0644))

	_, _, err := run(t, "tools", "--registry", path)
	assert.Error(t, err)
}

func TestApp_Compress(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "Report.PDF")
	require.NoError(t, os.WriteFile(input, testutil.PDF(t, 2), 0644))

	out, _, err := run(t, "compress", input)
	require.NoError(t, err)
	assert.Contains(t, out, "Written to")

	data, err := os.ReadFile(filepath.Join(dir, "Report-compressed.pdf"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestApp_CompressRejects(t *testing.T) {
	dir := t.TempDir()

	notPDF := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notPDF, []byte("hello"), 0644))
	_, _, err := run(t, "compress", notPDF)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Only PDF files are supported")

	broken := filepath.Join(dir, "broken.pdf")
	require.NoError(t, os.WriteFile(broken, []byte("this is not a pdf"), 0644))
	_, _, err = run(t, "compress", broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "We encountered an issue while compressing your PDF.")

	_, _, err = run(t, "compress", filepath.Join(dir, "missing.pdf"))
	assert.Error(t, err)
}

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.DataDirectory = dir
	cfg.Storage.UploadsDirectory = filepath.Join(dir, "uploads")
	cfg.Storage.TempDirectory = filepath.Join(dir, "temp")
	cfg.Storage.LibraryDirectory = filepath.Join(dir, "lib")
	cfg.Analytics.DatabasePath = ""
	cfg.Analytics.LogEvents = false
	cfg.Advanced.EnableRequestLogging = false
	require.NoError(t, cfg.EnsureDirectories())
	return cfg
}

func TestBuild_ServesAPIAndShell(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := build(ctx, testConfig(t), logging.Discard())
	require.NoError(t, err)
	defer c.close()

	rec := httptest.NewRecorder()
	c.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"analytics":"disabled"`)

	rec = httptest.NewRecorder()
	c.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analytics/counts", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	c.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, c.embedded)
}

func TestBuild_AnalyticsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Analytics.Enabled = false

	tracker, reader, breaker := buildAnalytics(cfg, logging.Discard())
	defer tracker.Close()
	assert.Nil(t, reader)
	assert.Equal(t, "disabled", breaker())
}

func TestSplitOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, splitOrigins(""))
	assert.Equal(t, []string{"http://a", "http://b"}, splitOrigins(" http://a, ,http://b "))
}
