// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pdftools/backend/internal/compress"
	"github.com/pdftools/backend/internal/pdf"
	"github.com/pdftools/backend/internal/session"
	"github.com/pdftools/backend/internal/storage"
	"github.com/pdftools/backend/internal/tools"
	"github.com/pdftools/backend/internal/validator"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	// Data carries state the client should render alongside the error,
	// such as a shell showing an error panel.
	Data interface{} `json:"data,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error constructors for consistent error handling

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error with a user-facing message
func NewValidationError(message string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: message,
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewUnknownToolError creates a 404 for an unregistered tool id
func NewUnknownToolError(id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "UNKNOWN_TOOL",
		Message: fmt.Sprintf("unknown tool: %s", id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewLibraryLoadError creates a 424 for a tool whose library failed to load
func NewLibraryLoadError(err *tools.LibraryLoadError, data interface{}) *APIError {
	apiErr := &APIError{
		Status:  http.StatusFailedDependency,
		Code:    "LIBRARY_LOAD_ERROR",
		Message: err.Message(),
		Data:    data,
	}
	if err.Err != nil {
		apiErr.Details = err.Err.Error()
	}
	return apiErr
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
	}
}

// mapError translates domain errors into API errors. Unrecognized errors
// are returned unchanged for the error handler.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		return NewValidationError(verr.Message)
	}

	var loadErr *tools.LibraryLoadError
	if errors.As(err, &loadErr) {
		return NewLibraryLoadError(loadErr, nil)
	}

	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		return &APIError{Status: http.StatusNotFound, Code: "UNKNOWN_TOOL", Message: err.Error()}
	case errors.Is(err, tools.ErrShellNotFound):
		return &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: err.Error()}
	case errors.Is(err, tools.ErrNoHistory):
		return NewConflictError(err.Error())
	case errors.Is(err, session.ErrNotFound):
		return &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: err.Error()}
	case errors.Is(err, session.ErrNoFile):
		return NewBadRequestError(session.MsgNoFile, nil)
	case errors.Is(err, session.ErrNoResult):
		return NewConflictError(session.MsgNoResult)
	case errors.Is(err, session.ErrInvalidTransition):
		return NewConflictError(err.Error())
	case errors.Is(err, session.ErrTooManySessions), errors.Is(err, compress.ErrBusy):
		return NewServiceUnavailableError(err.Error())
	case errors.Is(err, storage.ErrLinkNotFound):
		return &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: err.Error()}
	}

	var pe *pdf.Error
	if errors.As(err, &pe) {
		if pe.Kind == pdf.KindLibraryUnavailable {
			return &APIError{Status: http.StatusFailedDependency, Code: "LIBRARY_LOAD_ERROR", Message: err.Error()}
		}
		return NewBadRequestError(pdfMessage(pe.Kind), pe)
	}
	return err
}

// pdfMessage is the user-facing text for an engine failure outside the
// compressor flow.
func pdfMessage(kind pdf.Kind) string {
	switch kind {
	case pdf.KindParse, pdf.KindRead:
		return compress.MsgCorrupted
	case pdf.KindEncrypted:
		return compress.MsgEncrypted
	case pdf.KindResource:
		return compress.MsgResource
	case pdf.KindUnsupported:
		return "This operation is not supported for the given input."
	default:
		return "The PDF could not be processed."
	}
}

// ErrorHandler middleware for Echo
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError

	var httpErr *echo.HTTPError
	switch {
	case errors.As(mapError(err), &apiErr):
	case errors.As(err, &httpErr):
		apiErr = &APIError{
			Status:  httpErr.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	default:
		apiErr = &APIError{
			Status:  http.StatusInternalServerError,
			Code:    "UNKNOWN_ERROR",
			Message: "An unexpected error occurred",
		}
		if exposeDetails {
			apiErr.Details = err.Error()
		}
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(apiErr.Status)
		return
	}
	_ = c.JSON(apiErr.Status, apiErr)
}

// exposeDetails controls whether unexpected errors include their text.
var exposeDetails = true
