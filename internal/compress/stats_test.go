package compress

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pdftools/backend/internal/models"
	"github.com/pdftools/backend/internal/pdf"
)

func TestDownloadName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report-compressed.pdf"},
		{"REPORT.PDF", "REPORT-compressed.pdf"},
		{"my.pdf.pdf", "my.pdf-compressed.pdf"},
		{"scan", "scan-compressed.pdf"},
		{"notes.pdfx", "notes.pdfx-compressed.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, DownloadName(tt.in))
		})
	}
}

func TestStats(t *testing.T) {
	tests := []struct {
		name        string
		original    int64
		compressed  int64
		wantPercent float64
		wantSummary string
		optimized   bool
	}{
		{"half", 2048, 1024, 50, "Reduced by 50.0% • Saved 1 KB", false},
		{"rounded", 1000, 877, 12.3, "Reduced by 12.3% • Saved 123 Bytes", false},
		{"floored", 100000, 99999, 0.1, "Reduced by 0.1% • Saved 1 Bytes", false},
		{"equal", 1000, 1000, 0, summaryFullyOptimized, true},
		{"grew", 1000, 1200, 0, summaryNoReduction, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r models.CompressionResult
			Stats(&r, tt.original, tt.compressed)
			assert.Equal(t, tt.original-tt.compressed, r.SavedBytes)
			assert.InDelta(t, tt.wantPercent, r.Percent, 1e-9)
			assert.Equal(t, tt.wantSummary, r.Summary)
			assert.Equal(t, tt.optimized, r.AlreadyOptimized)
			if !tt.optimized {
				assert.Greater(t, r.Percent, 0.0)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"parse kind", &pdf.Error{Kind: pdf.KindParse, Op: "load", Err: errors.New("x")}, MessagePrefix + MsgCorrupted},
		{"encrypted kind", fmt.Errorf("wrap: %w", &pdf.Error{Kind: pdf.KindEncrypted}), MessagePrefix + MsgEncrypted},
		{"resource kind", &pdf.Error{Kind: pdf.KindResource}, MessagePrefix + MsgResource},
		{"foreign invalid", errors.New("Invalid object header"), MessagePrefix + MsgCorrupted},
		{"foreign password", errors.New("needs a password"), MessagePrefix + MsgEncrypted},
		{"busy", fmt.Errorf("%w: full", ErrBusy), MessagePrefix + MsgBusy},
		{"generic", &pdf.Error{Kind: pdf.KindRead, Op: "read", Err: errors.New("disk gone")}, MessagePrefix + "Please try again with a different PDF file. Error: disk gone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}
