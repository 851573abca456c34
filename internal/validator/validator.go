// Package validator gates uploads by type and size before a session accepts them.
package validator

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdftools/backend/internal/analytics"
)

// DefaultMaxSize is the upload ceiling: 30 MiB.
const DefaultMaxSize int64 = 30 * 1024 * 1024

// PDFMIMEType is the declared type accepted for PDF uploads.
const PDFMIMEType = "application/pdf"

// Reason identifies why a file was rejected.
type Reason string

const (
	ReasonType  Reason = "type"
	ReasonSize  Reason = "size"
	ReasonEmpty Reason = "empty"
)

// Rejection messages shown to the user.
const (
	MsgInvalidType  = "Please select a valid PDF file. Only PDF files are supported."
	MsgInvalidImage = "Please select image files (JPG, PNG, TIFF, WebP or BMP)."
	MsgEmptyFile    = "The file appears to be corrupted or is not a valid PDF document."
)

// ValidationError is returned for a rejected file.
type ValidationError struct {
	Reason  Reason
	Message string
	Size    int64
	Limit   int64
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validator checks candidate files against the accepted formats and the size ceiling.
type Validator struct {
	maxSize    int64
	extensions []string
	mimeTypes  []string
	subtype    string // accepts any declared type whose subtype contains it
	typeMsg    string
	tracker    analytics.Tracker
}

// Option customizes a Validator.
type Option func(*Validator)

// WithMaxSize overrides the size ceiling.
func WithMaxSize(n int64) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxSize = n
		}
	}
}

// WithTracker sets the analytics sink for upload attempts.
func WithTracker(t analytics.Tracker) Option {
	return func(v *Validator) {
		if t != nil {
			v.tracker = t
		}
	}
}

// New returns a PDF validator.
func New(opts ...Option) *Validator {
	v := &Validator{
		maxSize:    DefaultMaxSize,
		extensions: []string{".pdf"},
		mimeTypes:  []string{PDFMIMEType},
		subtype:    "pdf",
		typeMsg:    MsgInvalidType,
		tracker:    analytics.Nop{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NewImage returns a validator for raster image inputs.
func NewImage(opts ...Option) *Validator {
	v := New(opts...)
	v.extensions = []string{".jpg", ".jpeg", ".png", ".tif", ".tiff", ".webp", ".bmp", ".gif"}
	v.mimeTypes = []string{"image/jpeg", "image/png", "image/tiff", "image/webp", "image/bmp", "image/gif"}
	v.subtype = ""
	v.typeMsg = MsgInvalidImage
	return v
}

// MaxSize returns the configured ceiling in bytes.
func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

// Validate accepts or rejects a file and records the attempt for the given tool.
func (v *Validator) Validate(ctx context.Context, tool, name, mimeType string, size int64) error {
	v.tracker.Track(ctx, analytics.EventFileUploadAttempt, analytics.Params{
		"tool":      tool,
		"file_size": strconv.FormatInt(size, 10),
		"file_type": mimeType,
	})
	return v.Check(name, mimeType, size)
}

// Check applies the type and size rules without side effects.
func (v *Validator) Check(name, mimeType string, size int64) error {
	if !v.matchesType(name, mimeType) {
		return &ValidationError{Reason: ReasonType, Message: v.typeMsg, Size: size, Limit: v.maxSize}
	}
	if size > v.maxSize {
		return v.oversize(size)
	}
	if size == 0 {
		return &ValidationError{Reason: ReasonEmpty, Message: MsgEmptyFile, Limit: v.maxSize}
	}
	return nil
}

// ValidateSize records an attempt whose body was cut off before its type
// was known and rejects it when size exceeds the ceiling.
func (v *Validator) ValidateSize(ctx context.Context, tool string, size int64) error {
	v.tracker.Track(ctx, analytics.EventFileUploadAttempt, analytics.Params{
		"tool":      tool,
		"file_size": strconv.FormatInt(size, 10),
		"file_type": "",
	})
	if size > v.maxSize {
		return v.oversize(size)
	}
	return nil
}

func (v *Validator) oversize(size int64) error {
	msg := fmt.Sprintf(
		"The selected file is %.2f MB, which exceeds the maximum size limit of %.0f MB. "+
			"Please choose a smaller file or split the PDF into smaller parts.",
		toMB(size), toMB(v.maxSize))
	return &ValidationError{Reason: ReasonSize, Message: msg, Size: size, Limit: v.maxSize}
}

func (v *Validator) matchesType(name, mimeType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	for _, m := range v.mimeTypes {
		if mt == m {
			return true
		}
	}
	if _, sub, ok := strings.Cut(mt, "/"); ok && v.subtype != "" && strings.Contains(sub, v.subtype) {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range v.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func toMB(n int64) float64 {
	return float64(n) / (1024 * 1024)
}
