package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/pdftools/backend/internal/analytics"
	"github.com/pdftools/backend/internal/api"
	"github.com/pdftools/backend/internal/compress"
	"github.com/pdftools/backend/internal/config"
	"github.com/pdftools/backend/internal/logging"
	"github.com/pdftools/backend/internal/pdf"
	"github.com/pdftools/backend/internal/session"
	"github.com/pdftools/backend/internal/storage"
	"github.com/pdftools/backend/internal/tools"
	"github.com/pdftools/backend/internal/validator"
	"github.com/pdftools/backend/internal/web"
)

const shutdownTimeout = 15 * time.Second

func (a *App) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and browser shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			return a.serve(cmd.Context(), cfg, logger)
		},
	}
}

func (a *App) loadConfig() (*config.AppConfig, error) {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.AppConfig) *bolt.Logger {
	logging.Init(logging.Config{
		Level:  cfg.Advanced.LogLevel,
		Format: cfg.Advanced.LogFormat,
	})
	return logging.Get()
}

// components is the wired service.
type components struct {
	echo     *echo.Echo
	store    *storage.LocalStore
	links    *storage.Links
	sessions *session.Manager
	orch     *compress.Orchestrator
	router   *tools.Router
	tracker  *analytics.Dispatcher
	embedded bool
	logger   *bolt.Logger
}

// build wires every component from cfg. Background loops stop with ctx.
func build(ctx context.Context, cfg *config.AppConfig, logger *bolt.Logger) (*components, error) {
	tracker, reader, breaker := buildAnalytics(cfg, logger)

	store, err := storage.NewLocalStore(cfg.GetUploadDir())
	if err != nil {
		_ = tracker.Close()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	links := storage.NewLinks("/api/downloads/", time.Duration(cfg.Storage.DownloadTTL)*time.Second)

	pdfs := validator.New(validator.WithMaxSize(cfg.Storage.MaxUploadSize), validator.WithTracker(tracker))
	images := validator.NewImage(validator.WithMaxSize(cfg.Storage.MaxUploadSize), validator.WithTracker(tracker))

	sessions := session.NewManager(store, links, pdfs, session.Config{
		MaxSessions: cfg.Processing.MaxSessions,
	}, logger)
	sessions.StartCleanup(ctx, cfg.CleanupInterval(), cfg.SessionTimeout())

	engine := pdf.NewPDFCPU(logger)
	orch := compress.New(engine, store, tracker, compress.ConfigFrom(cfg), logger)

	registry, err := tools.LoadRegistry(cfg.Tools.RegistryFile, logger)
	if err != nil {
		orch.Close()
		_ = tracker.Close()
		return nil, fmt.Errorf("loading tool registry: %w", err)
	}
	if cfg.Tools.DefaultTool != "" {
		if err := registry.SetDefault(cfg.Tools.DefaultTool); err != nil {
			logger.Warn().Err(err).Msg("Configured default tool not found, keeping registry default")
		}
	}
	if cfg.Tools.RegistryFile != "" && cfg.Tools.WatchRegistry {
		go func() {
			if err := registry.Watch(ctx, cfg.Tools.RegistryFile); err != nil {
				logger.Warn().Err(err).Str("path", cfg.Tools.RegistryFile).Msg("Tool registry watch stopped")
			}
		}()
	}

	renderer := pdf.NewRenderer(logger)
	ocr := pdf.NewOCR(cfg.Tools.TesseractLang, "", logger)

	loader := tools.NewLoader(registry, cfg.Storage.LibraryDirectory,
		time.Duration(cfg.Tools.FetchTimeoutMs)*time.Millisecond, logger)
	loader.RegisterProbe("fitz", renderer.Available)
	loader.RegisterProbe("ocr", ocr.Available)
	if cfg.Tools.TessdataURL != "" {
		lang := cfg.Tools.TesseractLang
		loader.SetSource("tesseract", fmt.Sprintf(cfg.Tools.TessdataURL, lang), lang+".traineddata")
	}
	ocr.SetDataDir(loader.Dir())

	router := tools.NewRouter(registry, loader, tracker, logger)
	startSweeper(ctx, cfg.CleanupInterval(), cfg.SessionTimeout(), router, links)

	handlers := api.NewHandlers(&api.Dependencies{
		Store:        store,
		Links:        links,
		Sessions:     sessions,
		Orchestrator: orch,
		Router:       router,
		Loader:       loader,
		Operations: api.Operations{
			Engine:   engine,
			Text:     pdf.NewTextExtractor(),
			Renderer: renderer,
			OCR:      ocr,
		},
		OperationsCfg: api.OperationsConfig{
			MaxImageDimension: cfg.Processing.MaxImageDimension,
			RenderDPI:         cfg.Processing.RenderDPI,
		},
		PDFValidator:   pdfs,
		ImageValidator: images,
		Tracker:        tracker,
		Events:         reader,
		BreakerState:   breaker,
		Version:        Version,
		Logger:         logger,
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api.SetupMiddleware(e, api.MiddlewareConfig{
		RequestLogging: cfg.Advanced.EnableRequestLogging,
		RequestTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		Gzip:           cfg.Processing.EnableCompression,
		GzipLevel:      cfg.Processing.CompressionLevel,
		BodyLimit:      cfg.Server.BodyLimit,
		EnableCORS:     cfg.Server.EnableCORS,
		AllowOrigins:   splitOrigins(cfg.Server.AllowOrigins),
	})
	api.RegisterRoutes(e, handlers)

	embedded := web.HasEmbeddedFiles()
	if embedded {
		if err := web.RegisterStaticRoutes(e); err != nil {
			logger.Warn().Err(err).Msg("Failed to register static routes")
			embedded = false
		}
	}

	return &components{
		echo:     e,
		store:    store,
		links:    links,
		sessions: sessions,
		orch:     orch,
		router:   router,
		tracker:  tracker,
		embedded: embedded,
		logger:   logger,
	}, nil
}

// buildAnalytics assembles the event sinks. The reader serves the export
// endpoints and breaker reports the collector state for health output.
func buildAnalytics(cfg *config.AppConfig, logger *bolt.Logger) (*analytics.Dispatcher, analytics.Reader, func() string) {
	ac := cfg.Analytics
	breaker := func() string { return "disabled" }
	if !ac.Enabled {
		return analytics.NewDispatcher(logger), nil, breaker
	}

	var sinks []analytics.Sink
	if ac.LogEvents {
		sinks = append(sinks, analytics.NewLogSink(logger))
	}

	var reader analytics.Reader
	if ac.DatabasePath != "" {
		duck, err := analytics.NewDuckStore(ac.DatabasePath, ac.DuckDBThreads, logger)
		if err != nil {
			logger.Warn().Err(err).Str("path", ac.DatabasePath).Msg("Event database unavailable, keeping events in memory")
		} else {
			sinks = append(sinks, duck)
			reader = duck
		}
	}
	if reader == nil {
		memory := analytics.NewMemory(ac.RecentBuffer)
		sinks = append(sinks, memory)
		reader = memory
	}

	if ac.Endpoint != "" {
		ccfg := analytics.DefaultCollectorConfig()
		ccfg.Endpoint = ac.Endpoint
		ccfg.MeasurementID = ac.MeasurementID
		ccfg.APISecret = ac.APISecret
		if ac.CircuitBreakerThreshold > 0 {
			ccfg.CircuitBreakerThreshold = ac.CircuitBreakerThreshold
		}
		collector, err := analytics.NewCollector(ccfg, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Analytics collector disabled")
		} else {
			sinks = append(sinks, collector)
			breaker = collector.BreakerState
		}
	}

	return analytics.NewDispatcher(logger, sinks...), reader, breaker
}

// startSweeper drops idle shells and expired download links.
func startSweeper(ctx context.Context, interval, maxAge time.Duration, router *tools.Router, links *storage.Links) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				router.CleanupShells(maxAge)
				links.Sweep()
			}
		}
	}()
}

func splitOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// close stops background work and removes every stored file.
func (c *components) close() {
	c.orch.Close()
	c.sessions.Close()
	if err := c.tracker.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to close analytics sinks")
	}
	c.links.RevokeAll()
	if err := c.store.Purge(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to purge stored files")
	}
}

func (a *App) serve(ctx context.Context, cfg *config.AppConfig, logger *bolt.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.close()

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	a.printBanner(cfg, c.embedded)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.echo.StartServer(s)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := c.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

func (a *App) printBanner(cfg *config.AppConfig, embedded bool) {
	mode := "API only"
	if embedded {
		mode = "Embedded shell"
	}

	fmt.Fprintf(a.stdout, "\n")
	fmt.Fprintf(a.stdout, "╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(a.stdout, "║           pdftools Server                                 ║\n")
	fmt.Fprintf(a.stdout, "╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Fprintf(a.stdout, "║  Version:    %-45s║\n", Version)
	fmt.Fprintf(a.stdout, "║  Build Time: %-45s║\n", BuildTime)
	fmt.Fprintf(a.stdout, "║  Mode:       %-45s║\n", mode)
	fmt.Fprintf(a.stdout, "╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Fprintf(a.stdout, "║  Config:    %-46s║\n", a.configPath)
	fmt.Fprintf(a.stdout, "║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Fprintf(a.stdout, "║  Data Dir:  %-46s║\n", cfg.GetDataDir())
	fmt.Fprintf(a.stdout, "╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Fprintf(a.stdout, "\n")

	if embedded {
		fmt.Fprintf(a.stdout, "Open http://localhost:%d in your browser\n\n", cfg.Server.Port)
	}
}
