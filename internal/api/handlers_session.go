// handlers_session.go - Compressor session handlers
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pdftools/backend/internal/tools"
	"github.com/pdftools/backend/internal/validator"
)

// SessionHandlerImpl implements the SessionHandler interface
type SessionHandlerImpl struct {
	sessions   SessionManager
	compressor Compressor
	registry   *tools.Registry
	pdfs       *validator.Validator
}

// NewSessionHandler creates a new session handler. pdfs bounds the upload body.
func NewSessionHandler(sessions SessionManager, compressor Compressor, registry *tools.Registry, pdfs *validator.Validator) SessionHandler {
	if pdfs == nil {
		pdfs = validator.New()
	}
	return &SessionHandlerImpl{
		sessions:   sessions,
		compressor: compressor,
		registry:   registry,
		pdfs:       pdfs,
	}
}

// HandleCreateSession starts a session in the upload section
func (h *SessionHandlerImpl) HandleCreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.Tool == "" {
		req.Tool = h.registry.Default()
	}
	if !h.registry.Has(req.Tool) {
		return NewUnknownToolError(req.Tool)
	}

	view, err := h.sessions.Create(req.Tool)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, view)
}

// HandleGetSession returns the current state of a session
func (h *SessionHandlerImpl) HandleGetSession(c echo.Context) error {
	view, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// HandleDeleteSession drops a session and its files
func (h *SessionHandlerImpl) HandleDeleteSession(c echo.Context) error {
	if err := h.sessions.Delete(c.Param("id")); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleUploadFile accepts a multipart PDF into the session
func (h *SessionHandlerImpl) HandleUploadFile(c echo.Context) error {
	id := c.Param("id")
	session, err := h.sessions.Get(id)
	if err != nil {
		return mapError(err)
	}

	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, formSizeLimit(h.pdfs, 1))
	file, err := c.FormFile("file")
	if err != nil {
		if verr := oversizeBody(c, h.pdfs, session.Tool, err); verr != nil {
			return verr
		}
		return NewBadRequestError("no file provided", err)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	view, err := h.sessions.AcceptFile(c.Request().Context(), id, file.Filename,
		file.Header.Get(echo.HeaderContentType), file.Size, src)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// HandleCompress moves the session to processing and starts compression
func (h *SessionHandlerImpl) HandleCompress(c echo.Context) error {
	id := c.Param("id")
	if err := h.compressor.Start(id); err != nil {
		return mapError(err)
	}

	view, err := h.sessions.Get(id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusAccepted, view)
}

// HandleCancel returns a previewed file to the upload section
func (h *SessionHandlerImpl) HandleCancel(c echo.Context) error {
	view, err := h.sessions.Cancel(c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// HandleReset clears the session after a result or an error
func (h *SessionHandlerImpl) HandleReset(c echo.Context) error {
	view, err := h.sessions.Reset(c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// HandleDownloadLink issues a one-shot link for the compressed file
func (h *SessionHandlerImpl) HandleDownloadLink(c echo.Context) error {
	link, err := h.sessions.Download(c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, link)
}

// HandleKeepAlive extends session lifetime for active viewing
func (h *SessionHandlerImpl) HandleKeepAlive(c echo.Context) error {
	if err := h.sessions.Touch(c.Param("id")); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type createSessionRequest struct {
	Tool string `json:"tool"`
}

// maxMultipartMemory bounds in-memory form parsing; larger parts spill to disk.
const maxMultipartMemory = 8 << 20

// formSizeLimit is the request body ceiling for a tool accepting up to n
// files of the validator's maximum size.
func formSizeLimit(v *validator.Validator, n int) int64 {
	return v.MaxSize()*int64(n) + 1<<20
}

// oversizeBody turns a body cut off by http.MaxBytesReader into the
// validator's size rejection. Other errors yield nil.
func oversizeBody(c echo.Context, v *validator.Validator, tool string, err error) error {
	var tooLarge *http.MaxBytesError
	if !errors.As(err, &tooLarge) {
		return nil
	}
	size := c.Request().ContentLength
	if size <= tooLarge.Limit {
		size = tooLarge.Limit + 1
	}
	return v.ValidateSize(c.Request().Context(), tool, size)
}
