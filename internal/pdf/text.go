package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	lpdf "github.com/ledongthuc/pdf"
)

// PageText is the plain text layer of one page.
type PageText struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

// TextExtractor reads the embedded text layer. Scanned pages come back empty.
type TextExtractor struct{}

// NewTextExtractor returns a text extractor.
func NewTextExtractor() *TextExtractor { return &TextExtractor{} }

// Extract returns the text of every page in order.
func (x *TextExtractor) Extract(ctx context.Context, data []byte) (pages []PageText, err error) {
	if len(data) == 0 {
		return nil, newError(KindRead, "extract text", errors.New("empty input"))
	}

	// the reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = newError(KindParse, "extract text", fmt.Errorf("%v", r))
		}
	}()

	r, err := lpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, classifyLoad("extract text", err)
	}

	fonts := make(map[string]*lpdf.Font)
	n := r.NumPage()
	pages = make([]PageText, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, newError(KindUnknown, "extract text", err)
		}

		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, PageText{Page: i})
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := p.Font(name)
				fonts[name] = &f
			}
		}

		text, err := p.GetPlainText(fonts)
		if err != nil {
			return nil, newError(KindParse, "extract text", fmt.Errorf("page %d: %w", i, err))
		}
		pages = append(pages, PageText{Page: i, Text: strings.TrimSpace(text)})
	}
	return pages, nil
}
