//go:build ocr

package pdf

import (
	"context"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/otiai10/gosseract/v2"

	"github.com/pdftools/backend/internal/logging"
)

// OCREnabled reports whether this build links Tesseract.
const OCREnabled = true

// OCR recognizes text in page images with Tesseract.
type OCR struct {
	language  string
	tessdata  string
	newClient func() *gosseract.Client
	logger    *bolt.Logger
}

// NewOCR creates a Tesseract engine. tessdata may be empty to use the
// system default data directory.
func NewOCR(language, tessdata string, logger *bolt.Logger) *OCR {
	if language == "" {
		language = "eng"
	}
	return &OCR{
		language:  language,
		tessdata:  tessdata,
		newClient: gosseract.NewClient,
		logger:    logging.OrDefault(logger),
	}
}

// SetDataDir points the engine at a directory of traineddata files.
func (o *OCR) SetDataDir(dir string) { o.tessdata = dir }

// Available reports nil when OCR can be used.
func (o *OCR) Available() error { return nil }

// Recognize runs OCR over each page image.
func (o *OCR) Recognize(ctx context.Context, pages []RenderedPage) ([]PageText, error) {
	out := make([]PageText, 0, len(pages))
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, newError(KindUnknown, "ocr", err)
		}
		text, err := o.recognizeOne(page.PNG)
		if err != nil {
			return nil, newError(KindUnknown, "ocr", fmt.Errorf("page %d: %w", page.Page, err))
		}
		out = append(out, PageText{Page: page.Page, Text: text})
	}

	o.logger.Debug().Int("pages", len(out)).Str("language", o.language).Msg("OCR complete")
	return out, nil
}

func (o *OCR) recognizeOne(img []byte) (string, error) {
	c := o.newClient()
	defer c.Close()

	if o.tessdata != "" {
		if err := c.SetTessdataPrefix(o.tessdata); err != nil {
			return "", fmt.Errorf("set tessdata: %w", err)
		}
	}
	if err := c.SetLanguage(o.language); err != nil {
		return "", fmt.Errorf("set language: %w", err)
	}
	if err := c.SetImageFromBytes(img); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}
