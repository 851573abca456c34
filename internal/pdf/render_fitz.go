//go:build fitz

package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/gen2brain/go-fitz"

	"github.com/pdftools/backend/internal/logging"
)

// RenderingEnabled reports whether this build links MuPDF.
const RenderingEnabled = true

// Renderer rasterizes pages with MuPDF.
type Renderer struct {
	logger *bolt.Logger
}

// NewRenderer returns a MuPDF-backed renderer.
func NewRenderer(logger *bolt.Logger) *Renderer {
	return &Renderer{logger: logging.OrDefault(logger)}
}

// Available reports nil when rendering can be used.
func (r *Renderer) Available() error { return nil }

// Render rasterizes the given 1-based pages, or all pages when pages is empty.
func (r *Renderer) Render(ctx context.Context, data []byte, pages []int, dpi float64) ([]RenderedPage, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, classifyLoad("render", err)
	}
	defer doc.Close()

	dpi = normalizeDPI(dpi)
	selected := selectPages(pages, doc.NumPage())
	out := make([]RenderedPage, 0, len(selected))
	for _, page := range selected {
		if err := ctx.Err(); err != nil {
			return nil, newError(KindUnknown, "render", err)
		}

		img, err := doc.ImageDPI(page-1, dpi)
		if err != nil {
			return nil, classifyWrite("render", fmt.Errorf("page %d: %w", page, err))
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, newError(KindUnknown, "render", fmt.Errorf("page %d: %w", page, err))
		}
		out = append(out, RenderedPage{Page: page, PNG: buf.Bytes()})
	}

	r.logger.Debug().Int("pages", len(out)).Int("dpi", int(dpi)).Msg("Rendered pages")
	return out, nil
}
