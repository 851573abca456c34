// handlers_tools.go - Tool registry and shell navigation handlers
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pdftools/backend/internal/tools"
)

// ToolsHandlerImpl implements the ToolsHandler interface
type ToolsHandlerImpl struct {
	router *tools.Router
}

// NewToolsHandler creates a new tools handler
func NewToolsHandler(router *tools.Router) ToolsHandler {
	return &ToolsHandlerImpl{router: router}
}

// HandleListTools returns every registered tool
func (h *ToolsHandlerImpl) HandleListTools(c echo.Context) error {
	reg := h.router.Registry()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"default": reg.Default(),
		"tools":   reg.List(),
	})
}

// HandleCreateShell starts a shell, honoring a deep-link anchor
func (h *ToolsHandlerImpl) HandleCreateShell(c echo.Context) error {
	var req createShellRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.UserAgent == "" {
		req.UserAgent = c.Request().UserAgent()
	}

	view, err := h.router.CreateShell(c.Request().Context(), req.Anchor, req.UserAgent, req.ScreenWidth)
	if err != nil {
		return shellError(view, err)
	}
	return c.JSON(http.StatusCreated, view)
}

// HandleGetShell returns the current state of a shell
func (h *ToolsHandlerImpl) HandleGetShell(c echo.Context) error {
	view, err := h.router.Shell(c.Param("shellId"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// HandleSwitchTool switches the shell to another tool
func (h *ToolsHandlerImpl) HandleSwitchTool(c echo.Context) error {
	var req switchToolRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.Tool == "" {
		return NewBadRequestError("tool is required", nil)
	}

	view, err := h.router.Switch(c.Request().Context(), c.Param("shellId"), req.Tool)
	if err != nil {
		return shellError(view, err)
	}
	return c.JSON(http.StatusOK, view)
}

// HandleBack moves the shell one entry back in its history
func (h *ToolsHandlerImpl) HandleBack(c echo.Context) error {
	view, err := h.router.Back(c.Request().Context(), c.Param("shellId"))
	if err != nil {
		return shellError(view, err)
	}
	return c.JSON(http.StatusOK, view)
}

// HandleForward moves the shell one entry forward in its history
func (h *ToolsHandlerImpl) HandleForward(c echo.Context) error {
	view, err := h.router.Forward(c.Request().Context(), c.Param("shellId"))
	if err != nil {
		return shellError(view, err)
	}
	return c.JSON(http.StatusOK, view)
}

// shellError attaches the shell state to a library failure so the client
// can render the error panel.
func shellError(view *tools.ShellView, err error) error {
	var loadErr *tools.LibraryLoadError
	if errors.As(err, &loadErr) && view != nil {
		return NewLibraryLoadError(loadErr, view)
	}
	return mapError(err)
}

type createShellRequest struct {
	Anchor      string `json:"anchor"`
	UserAgent   string `json:"userAgent"`
	ScreenWidth int    `json:"screenWidth"`
}

type switchToolRequest struct {
	Tool string `json:"tool"`
}
