package validator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdftools/backend/internal/analytics"
	"github.com/pdftools/backend/internal/testutil"
)

func TestValidator_Check(t *testing.T) {
	tests := []struct {
		name       string
		fileName   string
		mimeType   string
		size       int64
		wantReason Reason
	}{
		{"pdf by mime and extension", "report.pdf", "application/pdf", 1024, ""},
		{"pdf by extension only", "report.PDF", "application/octet-stream", 1024, ""},
		{"pdf by mime only", "download", "application/pdf", 1024, ""},
		{"mime with parameters", "x", "Application/PDF; charset=binary", 10, ""},
		{"legacy pdf mime", "download", "application/x-pdf", 1024, ""},
		{"pdf subtype variant", "scan", "application/vnd.adobe.pdf", 1024, ""},
		{"pdf only in the top-level type", "x", "pdf/plain", 10, ReasonType},
		{"exactly at limit", "big.pdf", "application/pdf", DefaultMaxSize, ""},
		{"one byte over limit", "big.pdf", "application/pdf", DefaultMaxSize + 1, ReasonSize},
		{"not a pdf", "photo.jpg", "image/jpeg", 1024, ReasonType},
		{"no extension no mime", "README", "", 10, ReasonType},
		{"pdf in middle of name", "file.pdf.txt", "text/plain", 10, ReasonType},
		{"empty file", "empty.pdf", "application/pdf", 0, ReasonEmpty},
	}

	v := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Check(tt.fileName, tt.mimeType, tt.size)
			if tt.wantReason == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantReason, verr.Reason)
		})
	}
}

func TestValidator_OversizeMessageNamesBothSizes(t *testing.T) {
	v := New()
	for _, size := range []int64{DefaultMaxSize + 1, 31 * 1024 * 1024, 100 * 1024 * 1024} {
		err := v.Check("big.pdf", PDFMIMEType, size)
		require.Error(t, err)
		msg := err.Error()
		assert.Contains(t, msg, "30 MB")
		assert.True(t, strings.Contains(msg, "The selected file is "), msg)
		assert.Contains(t, msg, " MB, which exceeds")
	}

	err := v.Check("big.pdf", PDFMIMEType, 31*1024*1024)
	assert.Contains(t, err.Error(), "31.00 MB")
}

func TestValidator_TypeMessage(t *testing.T) {
	err := New().Check("a.txt", "text/plain", 5)
	require.Error(t, err)
	assert.Equal(t, MsgInvalidType, err.Error())
}

func TestValidator_WithMaxSize(t *testing.T) {
	v := New(WithMaxSize(10))
	assert.Equal(t, int64(10), v.MaxSize())
	assert.Error(t, v.Check("a.pdf", PDFMIMEType, 11))
	assert.NoError(t, v.Check("a.pdf", PDFMIMEType, 10))

	assert.Equal(t, DefaultMaxSize, New(WithMaxSize(0)).MaxSize())
}

func TestValidator_ValidateTracksEveryAttempt(t *testing.T) {
	rec := testutil.NewRecordingTracker()
	v := New(WithTracker(rec))
	ctx := context.Background()

	assert.NoError(t, v.Validate(ctx, "compressor", "a.pdf", PDFMIMEType, 2048))
	assert.Error(t, v.Validate(ctx, "compressor", "a.png", "image/png", 10))

	events := rec.Named(analytics.EventFileUploadAttempt)
	require.Len(t, events, 2)
	assert.Equal(t, "compressor", events[0].Params["tool"])
	assert.Equal(t, "2048", events[0].Params["file_size"])
	assert.Equal(t, "image/png", events[1].Params["file_type"])
}

func TestImageValidator(t *testing.T) {
	v := NewImage()
	assert.NoError(t, v.Check("scan.PNG", "", 10))
	assert.NoError(t, v.Check("photo", "image/jpeg", 10))
	assert.NoError(t, v.Check("old.bmp", "", 10))
	assert.NoError(t, v.Check("anim.GIF", "", 10))
	assert.NoError(t, v.Check("clip", "image/gif", 10))
	assert.Error(t, v.Check("x", "application/x-pdf", 10))

	err := v.Check("doc.pdf", PDFMIMEType, 10)
	require.Error(t, err)
	assert.Equal(t, MsgInvalidImage, err.Error())
}

func TestFormatFileSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 Bytes"},
		{1, "1 Bytes"},
		{1023, "1023 Bytes"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{1048576, "1 MB"},
		{1048576 * 3 / 2, "1.5 MB"},
		{31457280, "30 MB"},
		{1073741824, "1 GB"},
		{5 * 1099511627776, "5120 GB"},
		{-5, "0 Bytes"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatFileSize(tt.in), "FormatFileSize(%d)", tt.in)
	}
}

func TestFormatFileSize_MonotonicUnits(t *testing.T) {
	unitIndex := func(s string) int {
		for i, u := range sizeUnits {
			if strings.HasSuffix(s, " "+u) {
				return i
			}
		}
		return -1
	}

	prev := 0
	for n := int64(1); n < 1<<34; n = n*3/2 + 1 {
		idx := unitIndex(FormatFileSize(n))
		require.GreaterOrEqual(t, idx, prev, "unit went backwards at %d", n)
		prev = idx
	}
}
