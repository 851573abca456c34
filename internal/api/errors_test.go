package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdftools/backend/internal/compress"
	"github.com/pdftools/backend/internal/pdf"
	"github.com/pdftools/backend/internal/session"
	"github.com/pdftools/backend/internal/storage"
	"github.com/pdftools/backend/internal/tools"
	"github.com/pdftools/backend/internal/validator"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{
			name:    "validation",
			err:     &validator.ValidationError{Reason: validator.ReasonType, Message: validator.MsgInvalidType},
			status:  http.StatusBadRequest,
			code:    "VALIDATION_ERROR",
			message: validator.MsgInvalidType,
		},
		{
			name:   "unknown tool",
			err:    fmt.Errorf("%w: %q", tools.ErrUnknownTool, "x"),
			status: http.StatusNotFound,
			code:   "UNKNOWN_TOOL",
		},
		{
			name:    "library load",
			err:     &tools.LibraryLoadError{Library: "fitz", Name: "PDF Viewer", Err: errors.New("missing")},
			status:  http.StatusFailedDependency,
			code:    "LIBRARY_LOAD_ERROR",
			message: "Failed to load PDF Viewer. Please try again.",
		},
		{
			name:   "session not found",
			err:    session.ErrNotFound,
			status: http.StatusNotFound,
			code:   "NOT_FOUND",
		},
		{
			name:    "no file",
			err:     session.ErrNoFile,
			status:  http.StatusBadRequest,
			code:    "BAD_REQUEST",
			message: session.MsgNoFile,
		},
		{
			name:    "no result",
			err:     session.ErrNoResult,
			status:  http.StatusConflict,
			code:    "CONFLICT",
			message: session.MsgNoResult,
		},
		{
			name:   "invalid transition",
			err:    fmt.Errorf("compress from upload: %w", session.ErrInvalidTransition),
			status: http.StatusConflict,
			code:   "CONFLICT",
		},
		{
			name:   "busy",
			err:    compress.ErrBusy,
			status: http.StatusServiceUnavailable,
			code:   "SERVICE_UNAVAILABLE",
		},
		{
			name:   "used link",
			err:    storage.ErrLinkNotFound,
			status: http.StatusNotFound,
			code:   "NOT_FOUND",
		},
		{
			name:    "encrypted pdf",
			err:     &pdf.Error{Kind: pdf.KindEncrypted, Op: "merge", Err: errors.New("password")},
			status:  http.StatusBadRequest,
			code:    "BAD_REQUEST",
			message: compress.MsgEncrypted,
		},
		{
			name:   "renderer missing",
			err:    &pdf.Error{Kind: pdf.KindLibraryUnavailable, Op: "render"},
			status: http.StatusFailedDependency,
			code:   "LIBRARY_LOAD_ERROR",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr *APIError
			require.ErrorAs(t, mapError(tt.err), &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.code, apiErr.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, apiErr.Message)
			}
		})
	}
}

func TestMapError_PassesThroughUnknown(t *testing.T) {
	err := errors.New("boom")
	assert.Same(t, err, mapError(err))
	assert.Nil(t, mapError(nil))
}
