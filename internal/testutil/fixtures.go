package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"io"
	"mime/multipart"
	"net/textproto"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func init() {
	api.DisableConfigDir()
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

// PNG returns a w x h gradient PNG.
func PNG(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(w, h)))
	return buf.Bytes()
}

// BMP returns a w x h gradient BMP.
func BMP(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, testImage(w, h)))
	return buf.Bytes()
}

// GIF returns a w x h gradient GIF.
func GIF(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, testImage(w, h), nil))
	return buf.Bytes()
}

// PDF builds a valid document with the given number of image pages.
func PDF(t testing.TB, pages int) []byte {
	t.Helper()
	imgs := make([]io.Reader, 0, pages)
	for i := 0; i < pages; i++ {
		imgs = append(imgs, bytes.NewReader(PNG(t, 32, 32)))
	}

	var buf bytes.Buffer
	err := api.ImportImages(nil, &buf, imgs, pdfcpu.DefaultImportConfig(), model.NewDefaultConfiguration())
	require.NoError(t, err)
	return buf.Bytes()
}

// EncryptedPDF returns a single-page document protected by a user password.
func EncryptedPDF(t testing.TB) []byte {
	t.Helper()
	conf := model.NewAESConfiguration("secret", "owner", 256)

	var buf bytes.Buffer
	require.NoError(t, api.Encrypt(bytes.NewReader(PDF(t, 1)), &buf, conf))
	return buf.Bytes()
}

// FormFile is one file part of a multipart body.
type FormFile struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

// MultipartBody encodes files and plain fields as multipart/form-data.
func MultipartBody(t testing.TB, fields map[string]string, files ...FormFile) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+f.Field+`"; filename="`+f.Name+`"`)
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		header.Set("Content-Type", ct)
		part, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(f.Data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}
