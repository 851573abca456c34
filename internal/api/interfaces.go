// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"
	"io"

	"github.com/labstack/echo/v4"

	"github.com/pdftools/backend/internal/models"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// ToolsHandler handles the tool registry and client shells
type ToolsHandler interface {
	HandleListTools(c echo.Context) error
	HandleCreateShell(c echo.Context) error
	HandleGetShell(c echo.Context) error
	HandleSwitchTool(c echo.Context) error
	HandleBack(c echo.Context) error
	HandleForward(c echo.Context) error
}

// SessionHandler handles compressor session operations
type SessionHandler interface {
	HandleCreateSession(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleDeleteSession(c echo.Context) error
	HandleUploadFile(c echo.Context) error
	HandleCompress(c echo.Context) error
	HandleCancel(c echo.Context) error
	HandleReset(c echo.Context) error
	HandleDownloadLink(c echo.Context) error
	HandleKeepAlive(c echo.Context) error
}

// DownloadHandler streams one-shot downloads
type DownloadHandler interface {
	HandleDownload(c echo.Context) error
}

// OperationsHandler handles the single-request tools
type OperationsHandler interface {
	HandleMerge(c echo.Context) error
	HandleSplit(c echo.Context) error
	HandleImagesToPDF(c echo.Context) error
	HandleExtractText(c echo.Context) error
	HandlePDFToImages(c echo.Context) error
	HandleView(c echo.Context) error
	HandleOCR(c echo.Context) error
}

// AnalyticsHandler handles client events and event export
type AnalyticsHandler interface {
	HandleTrackEvents(c echo.Context) error
	HandleListEvents(c echo.Context) error
	HandleEventCounts(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	Create(tool string) (*models.SessionView, error)
	Get(id string) (*models.SessionView, error)
	Touch(id string) error
	Delete(id string) error
	AcceptFile(ctx context.Context, id, name, mimeType string, size int64, r io.Reader) (*models.SessionView, error)
	Cancel(id string) (*models.SessionView, error)
	Reset(id string) (*models.SessionView, error)
	Download(id string) (models.DownloadLink, error)
	Subscribe(id string) (<-chan *models.SessionView, func(), error)
}

// Compressor starts background compression for a session
type Compressor interface {
	Start(id string) error
}
