package compress

import (
	"fmt"
	"math"
	"regexp"

	"github.com/pdftools/backend/internal/models"
	"github.com/pdftools/backend/internal/validator"
)

const (
	summaryFullyOptimized = "File is already fully optimized"
	summaryNoReduction    = "File is already optimized (no reduction possible)"
)

var pdfSuffix = regexp.MustCompile(`(?i)\.pdf$`)

// DownloadName derives the output file name from the uploaded one.
func DownloadName(name string) string {
	if pdfSuffix.MatchString(name) {
		return pdfSuffix.ReplaceAllString(name, "-compressed.pdf")
	}
	return name + "-compressed.pdf"
}

// Stats fills the size figures of result. A positive saving that rounds
// to 0.0% is reported as 0.1%.
func Stats(result *models.CompressionResult, original, compressed int64) {
	result.OriginalSize = original
	result.CompressedSize = compressed
	result.SavedBytes = original - compressed

	switch {
	case result.SavedBytes > 0 && original > 0:
		pct := math.Round(float64(result.SavedBytes)/float64(original)*1000) / 10
		if pct < 0.1 {
			pct = 0.1
		}
		result.Percent = pct
		result.AlreadyOptimized = false
		result.Summary = fmt.Sprintf("Reduced by %.1f%% • Saved %s", pct, validator.FormatFileSize(result.SavedBytes))
	case result.SavedBytes == 0:
		result.Percent = 0
		result.AlreadyOptimized = true
		result.Summary = summaryFullyOptimized
	default:
		result.Percent = 0
		result.AlreadyOptimized = true
		result.Summary = summaryNoReduction
	}
}
