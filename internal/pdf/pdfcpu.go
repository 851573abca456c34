package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/pdftools/backend/internal/logging"
)

var disableConfigDir sync.Once

// PDFCPU implements Engine and the page-level tools on top of pdfcpu.
type PDFCPU struct {
	logger *bolt.Logger
}

// NewPDFCPU creates the pdfcpu adapter. pdfcpu's on-disk config directory is
// disabled for the whole process.
func NewPDFCPU(logger *bolt.Logger) *PDFCPU {
	disableConfigDir.Do(api.DisableConfigDir)
	return &PDFCPU{logger: logging.OrDefault(logger)}
}

func (e *PDFCPU) config() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Load parses and validates data.
func (e *PDFCPU) Load(ctx context.Context, data []byte) (Document, error) {
	if len(data) == 0 {
		return nil, newError(KindRead, "load", errors.New("empty input"))
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(KindUnknown, "load", err)
	}

	pctx, err := api.ReadContext(bytes.NewReader(data), e.config())
	if err != nil {
		return nil, classifyLoad("load", err)
	}
	if err := api.ValidateContext(pctx); err != nil {
		return nil, classifyLoad("validate", err)
	}

	return &pdfcpuDocument{ctx: pctx, logger: e.logger}, nil
}

type pdfcpuDocument struct {
	ctx    *model.Context
	logger *bolt.Logger
}

func (d *pdfcpuDocument) PageCount() int { return d.ctx.PageCount }

// Save optimizes the document and writes it with the requested stream layout.
func (d *pdfcpuDocument) Save(ctx context.Context, opts SaveOptions) ([]byte, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(KindUnknown, "save", err)
	}

	d.ctx.Configuration.WriteObjectStream = opts.UseObjectStreams
	d.ctx.Configuration.WriteXRefStream = opts.UseObjectStreams

	d.logger.Debug().
		Int("pages", d.ctx.PageCount).
		Bool("object_streams", opts.UseObjectStreams).
		Int("objects_per_tick", opts.ObjectsPerTick).
		Msg("Writing PDF")

	if err := api.OptimizeContext(d.ctx); err != nil {
		return nil, classifyWrite("optimize", err)
	}

	var buf bytes.Buffer
	if err := api.WriteContext(d.ctx, &buf); err != nil {
		return nil, classifyWrite("save", err)
	}
	return buf.Bytes(), nil
}

// PageCount returns the number of pages in data.
func (e *PDFCPU) PageCount(ctx context.Context, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, newError(KindRead, "page count", errors.New("empty input"))
	}
	n, err := api.PageCount(bytes.NewReader(data), e.config())
	if err != nil {
		return 0, classifyLoad("page count", err)
	}
	return n, nil
}

// Merge concatenates the given documents in order.
func (e *PDFCPU) Merge(ctx context.Context, docs [][]byte) ([]byte, error) {
	if len(docs) < 2 {
		return nil, newError(KindUnsupported, "merge", errors.New("at least two documents are required"))
	}

	readers := make([]io.ReadSeeker, 0, len(docs))
	for i, data := range docs {
		if len(data) == 0 {
			return nil, newError(KindRead, "merge", fmt.Errorf("empty input at position %d", i+1))
		}
		readers = append(readers, bytes.NewReader(data))
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(KindUnknown, "merge", err)
	}

	var buf bytes.Buffer
	if err := api.MergeRaw(readers, &buf, false, e.config()); err != nil {
		return nil, classifyLoad("merge", err)
	}

	e.logger.Debug().Int("documents", len(docs)).Int("bytes", buf.Len()).Msg("Merged PDFs")
	return buf.Bytes(), nil
}
