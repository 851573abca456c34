package pdf

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Part is one output file of a split.
type Part struct {
	Name string
	Data []byte
}

// Split cuts data into chunks of span pages. baseName names the parts.
func (e *PDFCPU) Split(ctx context.Context, data []byte, baseName string, span int) ([]Part, error) {
	if len(data) == 0 {
		return nil, newError(KindRead, "split", errors.New("empty input"))
	}
	if span < 1 {
		return nil, newError(KindUnsupported, "split", fmt.Errorf("invalid span %d", span))
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(KindUnknown, "split", err)
	}

	dir, err := os.MkdirTemp("", "pdftools-split-*")
	if err != nil {
		return nil, newError(KindResource, "split", err)
	}
	defer os.RemoveAll(dir)

	base := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	if base == "" {
		base = "document"
	}

	if err := api.Split(bytes.NewReader(data), dir, base+".pdf", span, e.config()); err != nil {
		return nil, classifyLoad("split", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, newError(KindRead, "split", err)
	}

	parts := make([]Part, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, newError(KindRead, "split", err)
		}
		parts = append(parts, Part{Name: entry.Name(), Data: b})
	}
	sortParts(parts)

	e.logger.Debug().Int("span", span).Int("parts", len(parts)).Msg("Split PDF")
	return parts, nil
}

// sortParts orders parts by their first page number, which pdfcpu
// encodes after the last underscore.
func sortParts(parts []Part) {
	sort.SliceStable(parts, func(i, j int) bool {
		return firstPage(parts[i].Name) < firstPage(parts[j].Name)
	})
}

func firstPage(name string) int {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	idx := strings.LastIndex(name, "_")
	if idx < 0 {
		return 0
	}
	var n int
	for _, r := range name[idx+1:] {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// Zip bundles parts into a single deflated archive.
func Zip(parts []Part) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, p := range parts {
		header := &zip.FileHeader{Name: p.Name, Method: zip.Deflate}
		w, err := zw.CreateHeader(header)
		if err != nil {
			return nil, fmt.Errorf("adding %s to archive: %w", p.Name, err)
		}
		if _, err := w.Write(p.Data); err != nil {
			return nil, fmt.Errorf("writing %s to archive: %w", p.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing archive: %w", err)
	}
	return buf.Bytes(), nil
}
