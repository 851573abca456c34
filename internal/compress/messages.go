package compress

import (
	"errors"
	"strings"

	"github.com/pdftools/backend/internal/pdf"
)

// MessagePrefix starts every compression failure shown to the user.
const MessagePrefix = "We encountered an issue while compressing your PDF. "

const (
	MsgCorrupted = "The file appears to be corrupted or is not a valid PDF document."
	MsgEncrypted = "This PDF is password-protected. Please remove the password protection and try again."
	MsgResource  = "The file is too complex to process. Try compressing a smaller or simpler PDF."
	MsgBusy      = "The service is busy right now. Please try again in a moment."
	msgGeneric   = "Please try again with a different PDF file. Error: "
)

// ErrBusy is returned when no compression slot became free.
var ErrBusy = errors.New("compression capacity exhausted")

// Classify returns the failure kind of err. Structured engine errors carry
// their kind; anything else is matched on its message.
func Classify(err error) pdf.Kind {
	if err == nil {
		return pdf.KindUnknown
	}
	if kind := pdf.KindOf(err); kind != pdf.KindUnknown {
		return kind
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "parse"):
		return pdf.KindParse
	case strings.Contains(msg, "encrypted"), strings.Contains(msg, "password"):
		return pdf.KindEncrypted
	case strings.Contains(msg, "out of memory"), strings.Contains(msg, "too large"):
		return pdf.KindResource
	default:
		return pdf.KindUnknown
	}
}

// UserMessage turns a compression failure into the text shown in the error section.
func UserMessage(err error) string {
	if errors.Is(err, ErrBusy) {
		return MessagePrefix + MsgBusy
	}

	switch Classify(err) {
	case pdf.KindParse:
		return MessagePrefix + MsgCorrupted
	case pdf.KindEncrypted:
		return MessagePrefix + MsgEncrypted
	case pdf.KindResource:
		return MessagePrefix + MsgResource
	default:
		return MessagePrefix + msgGeneric + detail(err)
	}
}

// detail returns the innermost useful description of err.
func detail(err error) string {
	if err == nil {
		return "unknown error"
	}
	var pe *pdf.Error
	if errors.As(err, &pe) && pe.Err != nil {
		return pe.Err.Error()
	}
	return err.Error()
}
