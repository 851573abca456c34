// handlers_ops.go - Single-request tool operations
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/labstack/echo/v4"

	"github.com/pdftools/backend/internal/analytics"
	"github.com/pdftools/backend/internal/logging"
	"github.com/pdftools/backend/internal/models"
	"github.com/pdftools/backend/internal/pdf"
	"github.com/pdftools/backend/internal/storage"
	"github.com/pdftools/backend/internal/tools"
	"github.com/pdftools/backend/internal/validator"
)

const (
	mimePDF  = "application/pdf"
	mimeZip  = "application/zip"
	mimeText = "text/plain; charset=utf-8"

	// maxMergeInputs bounds the number of files in one merge or import.
	maxMergeInputs = 20
	// ocrDPI is the render resolution used ahead of recognition.
	ocrDPI = 300
)

// Operations bundles the engines behind the single-request tools.
type Operations struct {
	Engine   *pdf.PDFCPU
	Text     *pdf.TextExtractor
	Renderer *pdf.Renderer
	OCR      *pdf.OCR
}

// OperationsHandlerImpl implements the OperationsHandler interface
type OperationsHandlerImpl struct {
	ops         Operations
	pdfs        *validator.Validator
	images      *validator.Validator
	store       storage.Store
	links       *storage.Links
	registry    *tools.Registry
	loader      *tools.Loader
	tracker     analytics.Tracker
	maxImageDim int
	renderDPI   float64
	logger      *bolt.Logger
}

// OperationsConfig holds the limits applied by the operations handler.
type OperationsConfig struct {
	MaxImageDimension int
	RenderDPI         int
}

// NewOperationsHandler creates a new operations handler
func NewOperationsHandler(ops Operations, pdfs, images *validator.Validator, store storage.Store, links *storage.Links,
	registry *tools.Registry, loader *tools.Loader, tracker analytics.Tracker, cfg OperationsConfig, logger *bolt.Logger) OperationsHandler {
	if tracker == nil {
		tracker = analytics.Nop{}
	}
	return &OperationsHandlerImpl{
		ops:         ops,
		pdfs:        pdfs,
		images:      images,
		store:       store,
		links:       links,
		registry:    registry,
		loader:      loader,
		tracker:     tracker,
		maxImageDim: cfg.MaxImageDimension,
		renderDPI:   float64(cfg.RenderDPI),
		logger:      logging.OrDefault(logger),
	}
}

// upload is one validated input file read into memory.
type upload struct {
	Name     string
	MIMEType string
	Data     []byte
}

// operationResponse is returned by every operation.
type operationResponse struct {
	Tool     string               `json:"tool"`
	Download *models.DownloadLink `json:"download,omitempty"`
	Parts    int                  `json:"parts,omitempty"`
	Pages    interface{}          `json:"pages,omitempty"`
}

type viewPage struct {
	Page  int    `json:"page"`
	Image []byte `json:"image"`
}

// HandleMerge joins two or more PDFs in upload order
func (h *OperationsHandlerImpl) HandleMerge(c echo.Context) error {
	const tool = "merge"
	start := time.Now()
	ctx := c.Request().Context()

	if err := h.ensure(ctx, tool); err != nil {
		return h.fail(ctx, tool, err)
	}
	files, err := h.readFiles(c, tool, "files", h.pdfs, 2, maxMergeInputs)
	if err != nil {
		return h.fail(ctx, tool, err)
	}

	docs := make([][]byte, len(files))
	for i, f := range files {
		docs[i] = f.Data
	}
	out, err := h.ops.Engine.Merge(ctx, docs)
	if err != nil {
		return h.fail(ctx, tool, err)
	}

	link, err := h.deliver(ctx, tool, "merged.pdf", mimePDF, out, len(files), start)
	if err != nil {
		return h.fail(ctx, tool, err)
	}
	return c.JSON(http.StatusOK, operationResponse{Tool: tool, Download: &link})
}

// HandleSplit cuts a PDF into parts of span pages delivered as a zip
func (h *OperationsHandlerImpl) HandleSplit(c echo.Context) error {
	const tool = "split"
	start := time.Now()
	ctx := c.Request().Context()

	if err := h.ensure(ctx, tool); err != nil {
		return h.fail(ctx, tool, err)
	}
	files, err := h.readFiles(c, tool, "file", h.pdfs, 1, 1)
	if err != nil {
		return h.fail(ctx, tool, err)
	}
	span, err := intParam(c.FormValue("span"), 1)
	if err != nil || span < 1 {
		return h.fail(ctx, tool, NewBadRequestError("span must be a positive number of pages", err))
	}

	base := baseName(files[0].Name)
	parts, err := h.ops.Engine.Split(ctx, files[0].Data, base, span)
	if err != nil {
		return h.fail(ctx, tool, err)
	}
	archive, err := pdf.Zip(parts)
	if err != nil {
		return h.fail(ctx, tool, err)
	}

	link, err := h.deliver(ctx, tool, base+"-split.zip", mimeZip, archive, 1, start)
	if err != nil {
		return h.fail(ctx, tool, err)
	}
	return c.JSON(http.StatusOK, operationResponse{Tool: tool, Download: &link, Parts: len(parts)})
}

// HandleImagesToPDF builds a PDF with one page per uploaded image
func (h *OperationsHandlerImpl) HandleImagesToPDF(c echo.Context) error {
	const tool = "images-to-pdf"
	start := time.Now()
	ctx := c.Request().Context()

	if err := h.ensure(ctx, tool); err != nil {
		return h.fail(ctx, tool, err)
	}
	files, err := h.readFiles(c, tool, "files", h.images, 1, maxMergeInputs)
	if err != nil {
		return h.fail(ctx, tool, err)
	}

	images := make([]pdf.Image, len(files))
	for i, f := range files {
		images[i] = pdf.Image{Name: f.Name, Data: f.Data}
	}
	out, err := h.ops.Engine.ImportImages(ctx, images, h.maxImageDim)
	if err != nil {
		return h.fail(ctx, tool, err)
	}

	link, err := h.deliver(ctx, tool, "images.pdf", mimePDF, out, len(files), start)
	if err != nil {
		return h.fail(ctx, tool, err)
	}
	return c.JSON(http.StatusOK, operationResponse{Tool: tool, Download: &link})
}

// HandleExtractText returns the embedded text of every page
func (h *OperationsHandlerImpl) HandleExtractText(c echo.Context) error {
	const tool = "text-extractor"
	start := time.Now()
	ctx := c.Request().Context()

	if err := h.ensure(ctx, tool); err != nil {
		return h.fail(ctx, tool, err)
	}
	files, err := h.readFiles(c, tool, "file", h.pdfs, 1, 1)
	if err != nil {
		return h.fail(ctx, tool, err)
	}

	pages, err := h.ops.Text.Extract(ctx, files[0].Data)
	if err != nil {
		return h.fail(ctx, tool, err)
	}

	link, err := h.deliver(ctx, tool, baseName(files[0].Name)+".txt", mimeText, joinPages(pages), 1, start)
	if err != nil {
		return h.fail(ctx, tool, err)
	}
	return c.JSON(http.StatusOK, operationResponse{Tool: tool, Download: &link, Pages: pages})
}

// HandlePDFToImages renders every page to PNG and delivers them as a zip
func (h *OperationsHandlerImpl) HandlePDFToImages(c echo.Context) error {
	const tool = "pdf-to-images"
	start := time.Now()
	ctx := c.Request().Context()

	if err := h.ensure(ctx, tool); err != nil {
		return h.fail(ctx, tool, err)
	}
	files, err := h.readFiles(c, tool, "file", h.pdfs, 1, 1)
	if err != nil {
		return h.fail(ctx, tool, err)
	}
	dpi, err := intParam(c.FormValue("dpi"), int(h.renderDPI))
	if err != nil || dpi < 0 || dpi > 600 {
		return h.fail(ctx, tool, NewBadRequestError("dpi must be a number up to 600", err))
	}

	rendered, err := h.ops.Renderer.Render(ctx, files[0].Data, nil, float64(dpi))
	if err != nil {
		return h.fail(ctx, tool, err)
	}

	base := baseName(files[0].Name)
	parts := make([]pdf.Part, len(rendered))
	for i, p := range rendered {
		parts[i] = pdf.Part{Name: fmt.Sprintf("%s-page-%d.png", base, p.Page), Data: p.PNG}
	}
	archive, err := pdf.Zip(parts)
	if err != nil {
		return h.fail(ctx, tool, err)
	}

	link, err := h.deliver(ctx, tool, base+"-images.zip", mimeZip, archive, 1, start)
	if err != nil {
		return h.fail(ctx, tool, err)
	}
	return c.JSON(http.StatusOK, operationResponse{Tool: tool, Download: &link, Parts: len(parts)})
}

// HandleView renders the requested pages inline
func (h *OperationsHandlerImpl) HandleView(c echo.Context) error {
	const tool = "viewer"
	start := time.Now()
	ctx := c.Request().Context()

	if err := h.ensure(ctx, tool); err != nil {
		return h.fail(ctx, tool, err)
	}
	files, err := h.readFiles(c, tool, "file", h.pdfs, 1, 1)
	if err != nil {
		return h.fail(ctx, tool, err)
	}
	pages, err := pageList(c.FormValue("pages"))
	if err != nil {
		return h.fail(ctx, tool, NewBadRequestError("pages must be a comma separated list of page numbers", err))
	}

	rendered, err := h.ops.Renderer.Render(ctx, files[0].Data, pages, h.renderDPI)
	if err != nil {
		return h.fail(ctx, tool, err)
	}

	out := make([]viewPage, len(rendered))
	var size int
	for i, p := range rendered {
		out[i] = viewPage{Page: p.Page, Image: p.PNG}
		size += len(p.PNG)
	}
	h.completed(ctx, tool, 1, int64(size), start)
	return c.JSON(http.StatusOK, operationResponse{Tool: tool, Pages: out})
}

// HandleOCR renders pages and recognizes their text
func (h *OperationsHandlerImpl) HandleOCR(c echo.Context) error {
	const tool = "ocr"
	start := time.Now()
	ctx := c.Request().Context()

	if err := h.ensure(ctx, tool); err != nil {
		return h.fail(ctx, tool, err)
	}
	files, err := h.readFiles(c, tool, "file", h.pdfs, 1, 1)
	if err != nil {
		return h.fail(ctx, tool, err)
	}
	pages, err := pageList(c.FormValue("pages"))
	if err != nil {
		return h.fail(ctx, tool, NewBadRequestError("pages must be a comma separated list of page numbers", err))
	}

	rendered, err := h.ops.Renderer.Render(ctx, files[0].Data, pages, ocrDPI)
	if err != nil {
		return h.fail(ctx, tool, err)
	}
	text, err := h.ops.OCR.Recognize(ctx, rendered)
	if err != nil {
		return h.fail(ctx, tool, err)
	}

	link, err := h.deliver(ctx, tool, baseName(files[0].Name)+"-ocr.txt", mimeText, joinPages(text), 1, start)
	if err != nil {
		return h.fail(ctx, tool, err)
	}
	return c.JSON(http.StatusOK, operationResponse{Tool: tool, Download: &link, Pages: text})
}

// ensure loads the library behind tool.
func (h *OperationsHandlerImpl) ensure(ctx context.Context, tool string) error {
	desc, err := h.registry.Lookup(tool)
	if err != nil {
		return err
	}
	return h.loader.Ensure(ctx, desc)
}

// readFiles validates and reads between min and max files from a form field.
func (h *OperationsHandlerImpl) readFiles(c echo.Context, tool, field string, v *validator.Validator, minFiles, maxFiles int) ([]upload, error) {
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, formSizeLimit(v, maxFiles))
	if err := req.ParseMultipartForm(maxMultipartMemory); err != nil {
		if verr := oversizeBody(c, v, tool, err); verr != nil {
			return nil, verr
		}
		return nil, NewBadRequestError("invalid multipart form", err)
	}

	headers := req.MultipartForm.File[field]
	if len(headers) < minFiles {
		if minFiles == 1 {
			return nil, NewBadRequestError("no file provided", nil)
		}
		return nil, NewBadRequestError(fmt.Sprintf("select at least %d files", minFiles), nil)
	}
	if len(headers) > maxFiles {
		return nil, NewBadRequestError(fmt.Sprintf("select at most %d files", maxFiles), nil)
	}

	out := make([]upload, 0, len(headers))
	for _, fh := range headers {
		mimeType := fh.Header.Get(echo.HeaderContentType)
		if err := v.Validate(req.Context(), tool, fh.Filename, mimeType, fh.Size); err != nil {
			return nil, err
		}

		src, err := fh.Open()
		if err != nil {
			return nil, NewInternalError("failed to open uploaded file", err)
		}
		data, err := io.ReadAll(io.LimitReader(src, v.MaxSize()+1))
		src.Close()
		if err != nil {
			return nil, NewBadRequestError("failed to read uploaded file", err)
		}
		if err := v.Check(fh.Filename, mimeType, int64(len(data))); err != nil {
			return nil, err
		}
		out = append(out, upload{Name: fh.Filename, MIMEType: mimeType, Data: data})
	}
	return out, nil
}

// deliver stores an output and issues its one-shot link.
func (h *OperationsHandlerImpl) deliver(ctx context.Context, tool, name, mimeType string, data []byte, inputs int, start time.Time) (models.DownloadLink, error) {
	info, err := h.store.Save(name, mimeType, models.FileKindResult, bytes.NewReader(data))
	if err != nil {
		return models.DownloadLink{}, NewInternalError("failed to store result", err)
	}

	link := h.links.Create(info, name, map[string]string{
		"tool":              tool,
		"output_size":       strconv.FormatInt(info.Size, 10),
		storage.MetaRelease: "1",
	})
	h.completed(ctx, tool, inputs, info.Size, start)
	return link, nil
}

func (h *OperationsHandlerImpl) completed(ctx context.Context, tool string, inputs int, size int64, start time.Time) {
	elapsed := time.Since(start)
	h.tracker.Track(ctx, analytics.EventToolCompleted, analytics.Params{
		"tool":        tool,
		"input_count": strconv.Itoa(inputs),
		"output_size": strconv.FormatInt(size, 10),
		"duration_ms": strconv.FormatInt(elapsed.Milliseconds(), 10),
	})
	logging.With(h.logger.Info(), logging.Tool(tool), logging.FileSize(size), logging.Duration(elapsed)).
		Msg("Tool operation completed")
}

// fail records a failed operation and maps err for the response.
func (h *OperationsHandlerImpl) fail(ctx context.Context, tool string, err error) error {
	mapped := mapError(err)
	message := err.Error()
	if apiErr, ok := mapped.(*APIError); ok {
		message = apiErr.Message
	}
	h.tracker.Track(ctx, analytics.EventToolError, analytics.Params{
		"tool":          tool,
		"error_message": message,
	})
	logging.With(h.logger.Warn(), logging.Tool(tool), logging.ErrorField(err)).Msg("Tool operation failed")
	return mapped
}

func baseName(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if base == "" || base == "." {
		return "document"
	}
	return base
}

func intParam(s string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

// pageList parses "1,3,5" into page numbers. Empty means every page.
func pageList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var pages []int
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		if n < 1 {
			return nil, fmt.Errorf("page %d out of range", n)
		}
		pages = append(pages, n)
	}
	return pages, nil
}

func joinPages(pages []pdf.PageText) []byte {
	var buf bytes.Buffer
	for i, p := range pages {
		if i > 0 {
			buf.WriteString("\n\n")
		}
		fmt.Fprintf(&buf, "--- Page %d ---\n%s", p.Page, p.Text)
	}
	return buf.Bytes()
}
