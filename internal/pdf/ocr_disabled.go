//go:build !ocr

package pdf

import (
	"context"
	"errors"

	"github.com/felixgeelhaar/bolt/v3"
)

// OCREnabled reports whether this build links Tesseract.
const OCREnabled = false

var errOCRDisabled = errors.New("text recognition requires a build with the ocr tag")

// OCR is a stub for builds without Tesseract.
type OCR struct{}

// NewOCR returns the stub engine.
func NewOCR(string, string, *bolt.Logger) *OCR { return &OCR{} }

// SetDataDir is a no-op in this build.
func (o *OCR) SetDataDir(string) {}

// Available always fails in this build.
func (o *OCR) Available() error {
	return newError(KindLibraryUnavailable, "ocr", errOCRDisabled)
}

// Recognize always fails in this build.
func (o *OCR) Recognize(context.Context, []RenderedPage) ([]PageText, error) {
	return nil, o.Available()
}
