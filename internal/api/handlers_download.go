// handlers_download.go - One-shot download streaming
package api

import (
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/labstack/echo/v4"

	"github.com/pdftools/backend/internal/analytics"
	"github.com/pdftools/backend/internal/logging"
	"github.com/pdftools/backend/internal/storage"
)

// DownloadHandlerImpl implements the DownloadHandler interface
type DownloadHandlerImpl struct {
	links   *storage.Links
	store   storage.Store
	tracker analytics.Tracker
	logger  *bolt.Logger
}

// NewDownloadHandler creates a new download handler. It also takes over
// releasing files whose links expire unclaimed.
func NewDownloadHandler(links *storage.Links, store storage.Store, tracker analytics.Tracker, logger *bolt.Logger) DownloadHandler {
	if tracker == nil {
		tracker = analytics.Nop{}
	}
	h := &DownloadHandlerImpl{
		links:   links,
		store:   store,
		tracker: tracker,
		logger:  logging.OrDefault(logger),
	}
	links.OnRelease(h.release)
	return h
}

// release deletes a file that only a download link referenced.
func (h *DownloadHandlerImpl) release(fileID string) {
	if err := h.store.Delete(fileID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.logger.Warn().Str("file_id", fileID).Err(err).Msg("Failed to release download file")
	}
}

// HandleDownload claims a token and streams its file. The token is gone
// once this returns, whatever the outcome.
func (h *DownloadHandlerImpl) HandleDownload(c echo.Context) error {
	link, err := h.links.Claim(c.Param("token"))
	if err != nil {
		return mapError(err)
	}

	rc, err := h.store.Open(link.FileID)
	if err != nil {
		return NewNotFoundError("file", link.FileName)
	}
	defer rc.Close()

	if link.Meta[storage.MetaRelease] != "" {
		defer h.release(link.FileID)
	}

	params := analytics.Params{}
	for k, v := range link.Meta {
		if k != storage.MetaRelease {
			params[k] = v
		}
	}
	h.tracker.Track(c.Request().Context(), analytics.EventFileDownloaded, params)

	header := c.Response().Header()
	header.Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": link.FileName}))
	header.Set(echo.HeaderContentLength, strconv.FormatInt(link.Size, 10))
	header.Set("Cache-Control", "no-store")

	contentType := link.MIMEType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	return c.Stream(http.StatusOK, contentType, rc)
}
