// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pdftools/backend/internal/analytics"
	"github.com/pdftools/backend/internal/compress"
	"github.com/pdftools/backend/internal/session"
	"github.com/pdftools/backend/internal/storage"
	"github.com/pdftools/backend/internal/tools"
	"github.com/pdftools/backend/internal/validator"
)

// HeaderClientID carries the browser's analytics client id.
const HeaderClientID = "X-Client-Id"

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store          storage.Store
	Links          *storage.Links
	Sessions       *session.Manager
	Orchestrator   *compress.Orchestrator
	Router         *tools.Router
	Loader         *tools.Loader
	Operations     Operations
	OperationsCfg  OperationsConfig
	PDFValidator   *validator.Validator
	ImageValidator *validator.Validator
	Tracker        analytics.Tracker
	Events         analytics.Reader
	BreakerState   func() string
	Version        string
	Logger         *bolt.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health     HealthHandler
	Tools      ToolsHandler
	Session    SessionHandler
	Download   DownloadHandler
	Operations OperationsHandler
	Analytics  AnalyticsHandler
	WebSocket  *WebSocketHandler
}

// orchestratorStarter binds the orchestrator to the session manager.
type orchestratorStarter struct {
	orchestrator *compress.Orchestrator
	sessions     compress.Sessions
}

func (s orchestratorStarter) Start(id string) error {
	return s.orchestrator.Start(s.sessions, id)
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	registry := deps.Router.Registry()
	starter := orchestratorStarter{orchestrator: deps.Orchestrator, sessions: deps.Sessions}
	operations := NewOperationsHandler(deps.Operations, deps.PDFValidator, deps.ImageValidator,
		deps.Store, deps.Links, registry, deps.Loader, deps.Tracker, deps.OperationsCfg, deps.Logger)

	return &Handlers{
		Health:     NewHealthHandler(deps.Version, deps.BreakerState, deps.Sessions.Count),
		Tools:      NewToolsHandler(deps.Router),
		Session:    NewSessionHandler(deps.Sessions, starter, registry, deps.PDFValidator),
		Download:   NewDownloadHandler(deps.Links, deps.Store, deps.Tracker, deps.Logger),
		Operations: operations,
		Analytics:  NewAnalyticsHandler(deps.Tracker, deps.Events),
		WebSocket:  NewWebSocketHandler(deps.Sessions, deps.Logger),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api", ClientID)

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Tool registry and shell navigation
	apiGroup.GET("/tools", handlers.Tools.HandleListTools)
	apiGroup.POST("/shell", handlers.Tools.HandleCreateShell)
	apiGroup.GET("/shell/:shellId", handlers.Tools.HandleGetShell)
	apiGroup.POST("/shell/:shellId/switch", handlers.Tools.HandleSwitchTool)
	apiGroup.POST("/shell/:shellId/back", handlers.Tools.HandleBack)
	apiGroup.POST("/shell/:shellId/forward", handlers.Tools.HandleForward)

	// Compressor sessions
	sessionGroup := apiGroup.Group("/sessions")
	sessionGroup.POST("", handlers.Session.HandleCreateSession)
	sessionGroup.GET("/:id", handlers.Session.HandleGetSession)
	sessionGroup.DELETE("/:id", handlers.Session.HandleDeleteSession)
	sessionGroup.POST("/:id/file", handlers.Session.HandleUploadFile)
	sessionGroup.POST("/:id/compress", handlers.Session.HandleCompress)
	sessionGroup.POST("/:id/cancel", handlers.Session.HandleCancel)
	sessionGroup.POST("/:id/reset", handlers.Session.HandleReset)
	sessionGroup.POST("/:id/download", handlers.Session.HandleDownloadLink)
	sessionGroup.POST("/:id/keepalive", handlers.Session.HandleKeepAlive)

	// WebSocket status push
	apiGroup.GET("/ws/sessions/:id", handlers.WebSocket.HandleSessionStatus)

	// One-shot downloads
	apiGroup.GET("/downloads/:token", handlers.Download.HandleDownload)

	// Single-request tools
	toolGroup := apiGroup.Group("/tools")
	toolGroup.POST("/merge", handlers.Operations.HandleMerge)
	toolGroup.POST("/split", handlers.Operations.HandleSplit)
	toolGroup.POST("/images-to-pdf", handlers.Operations.HandleImagesToPDF)
	toolGroup.POST("/text-extractor", handlers.Operations.HandleExtractText)
	toolGroup.POST("/pdf-to-images", handlers.Operations.HandlePDFToImages)
	toolGroup.POST("/viewer", handlers.Operations.HandleView)
	toolGroup.POST("/ocr", handlers.Operations.HandleOCR)

	// Analytics
	apiGroup.POST("/analytics/events", handlers.Analytics.HandleTrackEvents)
	apiGroup.GET("/analytics/events", handlers.Analytics.HandleListEvents)
	apiGroup.GET("/analytics/counts", handlers.Analytics.HandleEventCounts)
}

// ClientID copies the client id header into the request context so
// tracked events are attributed to the browser that caused them.
func ClientID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if id := strings.TrimSpace(c.Request().Header.Get(HeaderClientID)); id != "" {
			req := c.Request()
			c.SetRequest(req.WithContext(analytics.WithClientID(req.Context(), id)))
		}
		return next(c)
	}
}

// MiddlewareConfig selects the optional middleware.
type MiddlewareConfig struct {
	RequestLogging   bool
	RequestTimeout   time.Duration
	Gzip             bool
	GzipLevel        int
	BodyLimit        string
	EnableCORS       bool
	AllowOrigins     []string
	ExposeErrorTexts bool
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig) {
	e.HTTPErrorHandler = ErrorHandler
	exposeDetails = cfg.ExposeErrorTexts

	if cfg.RequestLogging {
		e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return strings.HasSuffix(path, "/keepalive") ||
					strings.HasPrefix(path, "/api/ws/") ||
					path == "/api/health"
			},
		}))
	}

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	if cfg.RequestTimeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout: cfg.RequestTimeout,
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return strings.HasPrefix(path, "/api/ws/") ||
					strings.HasPrefix(path, "/api/downloads/") ||
					strings.HasPrefix(path, "/api/tools/")
			},
			ErrorMessage: "Request timeout",
		}))
	}

	if cfg.Gzip {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: cfg.GzipLevel,
			Skipper: func(c echo.Context) bool {
				// downloads are already compressed formats
				path := c.Request().URL.Path
				return strings.HasPrefix(path, "/api/downloads/") || strings.HasPrefix(path, "/api/ws/")
			},
		}))
	}

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	if cfg.EnableCORS {
		origins := cfg.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, HeaderClientID},
		}))
	}
}
