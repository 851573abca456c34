package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image is one input page for ImportImages.
type Image struct {
	Name string
	Data []byte
}

// formats pdfcpu embeds without conversion.
var nativeImageFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
	"tiff": true,
}

// ImportImages builds a new PDF with one page per image. Images wider or
// taller than maxDim are scaled down first; maxDim <= 0 disables scaling.
func (e *PDFCPU) ImportImages(ctx context.Context, images []Image, maxDim int) ([]byte, error) {
	if len(images) == 0 {
		return nil, newError(KindUnsupported, "import images", errors.New("no images given"))
	}

	readers := make([]io.Reader, 0, len(images))
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, newError(KindUnknown, "import images", err)
		}
		data, err := prepareImage(img, maxDim)
		if err != nil {
			return nil, err
		}
		readers = append(readers, bytes.NewReader(data))
	}

	var buf bytes.Buffer
	if err := api.ImportImages(nil, &buf, readers, pdfcpu.DefaultImportConfig(), e.config()); err != nil {
		return nil, classifyWrite("import images", err)
	}

	e.logger.Debug().Int("images", len(images)).Int("bytes", buf.Len()).Msg("Imported images")
	return buf.Bytes(), nil
}

// prepareImage passes native formats through and re-encodes the rest as PNG.
func prepareImage(img Image, maxDim int) ([]byte, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return nil, newError(KindParse, "import images", fmt.Errorf("%s: %w", img.Name, err))
	}

	oversized := maxDim > 0 && (cfg.Width > maxDim || cfg.Height > maxDim)
	if nativeImageFormats[format] && !oversized {
		return img.Data, nil
	}

	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, newError(KindParse, "import images", fmt.Errorf("%s: %w", img.Name, err))
	}
	if oversized {
		decoded = downscale(decoded, maxDim)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, decoded); err != nil {
		return nil, newError(KindUnknown, "import images", fmt.Errorf("%s: %w", img.Name, err))
	}
	return buf.Bytes(), nil
}

func downscale(src image.Image, maxDim int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w >= h {
		h = h * maxDim / w
		w = maxDim
	} else {
		w = w * maxDim / h
		h = maxDim
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
