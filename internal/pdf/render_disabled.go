//go:build !fitz

package pdf

import (
	"context"
	"errors"

	"github.com/felixgeelhaar/bolt/v3"
)

// RenderingEnabled reports whether this build links MuPDF.
const RenderingEnabled = false

var errRenderingDisabled = errors.New("page rendering requires a build with the fitz tag")

// Renderer is a stub for builds without MuPDF.
type Renderer struct{}

// NewRenderer returns the stub renderer.
func NewRenderer(*bolt.Logger) *Renderer { return &Renderer{} }

// Available always fails in this build.
func (r *Renderer) Available() error {
	return newError(KindLibraryUnavailable, "render", errRenderingDisabled)
}

// Render always fails in this build.
func (r *Renderer) Render(context.Context, []byte, []int, float64) ([]RenderedPage, error) {
	return nil, r.Available()
}
