package pdf

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an engine failure.
type Kind string

const (
	KindRead               Kind = "read"
	KindParse              Kind = "parse"
	KindEncrypted          Kind = "encrypted"
	KindResource           Kind = "resource"
	KindUnsupported        Kind = "unsupported"
	KindLibraryUnavailable Kind = "library_unavailable"
	KindUnknown            Kind = "unknown"
)

// Error is the structured failure returned by every engine operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("pdf %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("pdf %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a bare kind sentinel matching e.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrRead               = &Error{Kind: KindRead}
	ErrParse              = &Error{Kind: KindParse}
	ErrEncrypted          = &Error{Kind: KindEncrypted}
	ErrResource           = &Error{Kind: KindResource}
	ErrUnsupported        = &Error{Kind: KindUnsupported}
	ErrLibraryUnavailable = &Error{Kind: KindLibraryUnavailable}
)

// KindOf returns the kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// classifyLoad maps a parser failure to a kind. pdfcpu reports encryption
// problems only through its message text.
func classifyLoad(op string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "password"), strings.Contains(msg, "encrypt"):
		return newError(KindEncrypted, op, err)
	case isResourceMessage(msg):
		return newError(KindResource, op, err)
	default:
		return newError(KindParse, op, err)
	}
}

func classifyWrite(op string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if isResourceMessage(strings.ToLower(err.Error())) {
		return newError(KindResource, op, err)
	}
	return newError(KindUnknown, op, err)
}

func isResourceMessage(msg string) bool {
	return strings.Contains(msg, "memory") || strings.Contains(msg, "too large")
}
