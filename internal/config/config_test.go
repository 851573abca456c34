package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_CreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pdftools.yaml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config should be written")

	assert.Equal(t, int64(31457280), cfg.Storage.MaxUploadSize)
	assert.Equal(t, 50, cfg.Processing.ObjectsPerTick)
	assert.Equal(t, "compressor", cfg.Tools.DefaultTool)
	assert.Equal(t, filepath.Join(dir, "data", "uploads"), cfg.GetUploadDir())
	assert.True(t, filepath.IsAbs(cfg.Analytics.DatabasePath))
}

func TestLoadConfig_ReadsFileAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pdftools.yaml")
	content := `
server:
  port: 9000
  bindAddress: 127.0.0.1
processing:
  pacingEnabled: false
advanced:
  logLevel: warn
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("PORT", "9100")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("MAX_UPLOAD_SIZE", "1024")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:9100", cfg.GetServerAddr())
	assert.False(t, cfg.Processing.PacingEnabled)
	assert.Equal(t, "warn", cfg.Advanced.LogLevel)
	assert.Equal(t, "json", cfg.Advanced.LogFormat)
	assert.Equal(t, int64(1024), cfg.Storage.MaxUploadSize)
	// Unset fields keep their defaults.
	assert.Equal(t, 3, cfg.Processing.MaxConcurrentJobs)
}

func TestLoadConfig_DataDirOverride(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "elsewhere")
	t.Setenv("DATA_DIR", dataDir)

	cfg, err := LoadConfig(filepath.Join(dir, "c.yaml"))
	require.NoError(t, err)
	assert.Equal(t, dataDir, cfg.GetDataDir())
	assert.Equal(t, filepath.Join(dataDir, "uploads"), cfg.GetUploadDir())

	require.NoError(t, cfg.EnsureDirectories())
	_, err = os.Stat(cfg.Storage.LibraryDirectory)
	assert.NoError(t, err)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Processing.ObjectsPerTick = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())
}
