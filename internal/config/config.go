// Package config provides YAML-based configuration with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the root configuration document.
type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Processing ProcessingConfig `yaml:"processing"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`
	Tools      ToolsConfig      `yaml:"tools"`
	Advanced   AdvancedConfig   `yaml:"advanced"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int    `yaml:"port"`
	BindAddress  string `yaml:"bindAddress"`
	EnableCORS   bool   `yaml:"enableCors"`
	AllowOrigins string `yaml:"allowOrigins"`
	ReadTimeout  int    `yaml:"readTimeoutSeconds"`
	WriteTimeout int    `yaml:"writeTimeoutSeconds"`
	IdleTimeout  int    `yaml:"idleTimeoutSeconds"`
	BodyLimit    string `yaml:"bodyLimit"`
}

// StorageConfig contains file storage settings.
type StorageConfig struct {
	DataDirectory    string `yaml:"dataDirectory"`
	UploadsDirectory string `yaml:"uploadsDirectory"`
	TempDirectory    string `yaml:"tempDirectory"`
	LibraryDirectory string `yaml:"libraryDirectory"`
	MaxUploadSize    int64  `yaml:"maxUploadSizeBytes"`
	DownloadTTL      int    `yaml:"downloadTtlSeconds"`
}

// ProcessingConfig contains compression and session settings.
type ProcessingConfig struct {
	MaxConcurrentJobs      int  `yaml:"maxConcurrentJobs"`
	MaxSessions            int  `yaml:"maxSessions"`
	SessionTimeoutMinutes  int  `yaml:"sessionTimeoutMinutes"`
	CleanupIntervalMinutes int  `yaml:"cleanupIntervalMinutes"`
	ObjectsPerTick         int  `yaml:"objectsPerTick"`
	PacingEnabled          bool `yaml:"pacingEnabled"`
	PacingAnalyzeMs        int  `yaml:"pacingAnalyzeMs"`
	PacingCompressMs       int  `yaml:"pacingCompressMs"`
	PacingFinalizeMs       int  `yaml:"pacingFinalizeMs"`
	MinFreeMemoryMB        int  `yaml:"minFreeMemoryMb"`
	EnableCompression      bool `yaml:"enableCompression"`
	CompressionLevel       int  `yaml:"compressionLevel"`
	MaxImageDimension      int  `yaml:"maxImageDimension"`
	RenderDPI              int  `yaml:"renderDpi"`
}

// AnalyticsConfig contains event tracking settings.
type AnalyticsConfig struct {
	Enabled                 bool   `yaml:"enabled"`
	LogEvents               bool   `yaml:"logEvents"`
	DatabasePath            string `yaml:"databasePath"`
	DuckDBThreads           int    `yaml:"duckdbThreads"`
	Endpoint                string `yaml:"endpoint"`
	MeasurementID           string `yaml:"measurementId"`
	APISecret               string `yaml:"apiSecret"`
	CircuitBreakerThreshold int    `yaml:"circuitBreakerThreshold"`
	RecentBuffer            int    `yaml:"recentBuffer"`
}

// ToolsConfig contains tool registry settings.
type ToolsConfig struct {
	RegistryFile   string `yaml:"registryFile"`
	WatchRegistry  bool   `yaml:"watchRegistry"`
	DefaultTool    string `yaml:"defaultTool"`
	TesseractLang  string `yaml:"tesseractLanguage"`
	TessdataURL    string `yaml:"tessdataUrl"`
	FetchTimeoutMs int    `yaml:"fetchTimeoutMs"`
}

// AdvancedConfig contains logging and diagnostics options.
type AdvancedConfig struct {
	LogLevel             string `yaml:"logLevel"`
	LogFormat            string `yaml:"logFormat"`
	EnableRequestLogging bool   `yaml:"enableRequestLogging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8090,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  60,
			WriteTimeout: 120,
			IdleTimeout:  120,
			BodyLimit:    "200M",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
			TempDirectory:    "./data/temp",
			LibraryDirectory: "./data/lib",
			MaxUploadSize:    30 * 1024 * 1024,
			DownloadTTL:      600,
		},
		Processing: ProcessingConfig{
			MaxConcurrentJobs:      3,
			MaxSessions:            200,
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
			ObjectsPerTick:         50,
			PacingEnabled:          true,
			PacingAnalyzeMs:        300,
			PacingCompressMs:       300,
			PacingFinalizeMs:       200,
			MinFreeMemoryMB:        64,
			EnableCompression:      true,
			CompressionLevel:       5,
			MaxImageDimension:      4000,
			RenderDPI:              150,
		},
		Analytics: AnalyticsConfig{
			Enabled:                 true,
			LogEvents:               true,
			DatabasePath:            "./data/analytics.duckdb",
			DuckDBThreads:           2,
			CircuitBreakerThreshold: 5,
			RecentBuffer:            500,
		},
		Tools: ToolsConfig{
			WatchRegistry:  true,
			DefaultTool:    "compressor",
			TesseractLang:  "eng",
			TessdataURL:    "https://github.com/tesseract-ocr/tessdata_fast/raw/main/%s.traineddata",
			FetchTimeoutMs: 30000,
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			LogFormat:            "console",
			EnableRequestLogging: true,
		},
	}
}

// LoadConfig loads configuration from a YAML file, writing the defaults first if it does not exist.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes the configuration as YAML.
func (c *AppConfig) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# pdftools configuration\n# This file is auto-generated on first run\n\n")
	content := append(header, output...)

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects values the service cannot run with.
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Storage.MaxUploadSize <= 0 {
		return fmt.Errorf("maxUploadSizeBytes must be positive")
	}
	if c.Processing.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("maxConcurrentJobs must be positive")
	}
	if c.Processing.ObjectsPerTick <= 0 {
		return fmt.Errorf("objectsPerTick must be positive")
	}
	return nil
}

// applyEnvironmentOverrides lets environment variables override file values.
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.UploadsDirectory = filepath.Join(dataDir, "uploads")
		c.Storage.TempDirectory = filepath.Join(dataDir, "temp")
		c.Storage.LibraryDirectory = filepath.Join(dataDir, "lib")
	}

	if size := os.Getenv("MAX_UPLOAD_SIZE"); size != "" {
		if n, err := strconv.ParseInt(size, 10, 64); err == nil && n > 0 {
			c.Storage.MaxUploadSize = n
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.Advanced.LogFormat = strings.ToLower(format)
	}

	if endpoint := os.Getenv("ANALYTICS_ENDPOINT"); endpoint != "" {
		c.Analytics.Endpoint = endpoint
	}
	if id := os.Getenv("ANALYTICS_MEASUREMENT_ID"); id != "" {
		c.Analytics.MeasurementID = id
	}
	if secret := os.Getenv("ANALYTICS_API_SECRET"); secret != "" {
		c.Analytics.APISecret = secret
	}
}

// resolvePaths converts relative paths to absolute based on the config file location.
func (c *AppConfig) resolvePaths(configDir string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
	resolve(&c.Storage.DataDirectory)
	resolve(&c.Storage.UploadsDirectory)
	resolve(&c.Storage.TempDirectory)
	resolve(&c.Storage.LibraryDirectory)
	resolve(&c.Analytics.DatabasePath)
	resolve(&c.Tools.RegistryFile)
}

// GetDataDir returns the absolute data directory path.
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetUploadDir returns the absolute uploads directory path.
func (c *AppConfig) GetUploadDir() string {
	return c.Storage.UploadsDirectory
}

// GetServerAddr returns the server bind address.
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// SessionTimeout returns the idle age after which sessions are removed.
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Processing.SessionTimeoutMinutes) * time.Minute
}

// CleanupInterval returns how often expired sessions are swept.
func (c *AppConfig) CleanupInterval() time.Duration {
	if c.Processing.CleanupIntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Processing.CleanupIntervalMinutes) * time.Minute
}

// EnsureDirectories creates all necessary directories.
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
		c.Storage.TempDirectory,
		c.Storage.LibraryDirectory,
	}
	if c.Analytics.DatabasePath != "" {
		dirs = append(dirs, filepath.Dir(c.Analytics.DatabasePath))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
