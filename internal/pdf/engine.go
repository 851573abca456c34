// Package pdf is the boundary to the third-party PDF libraries. Every
// failure leaving this package is a *Error with a Kind.
package pdf

import (
	"context"
	"errors"
)

// SaveOptions controls how a loaded document is serialized.
type SaveOptions struct {
	UseObjectStreams bool
	AddDefaultPage   bool
	ObjectsPerTick   int
}

// DefaultSaveOptions returns the options used for compression.
func DefaultSaveOptions() SaveOptions {
	return SaveOptions{UseObjectStreams: true, AddDefaultPage: false, ObjectsPerTick: 50}
}

// Validate checks option values.
func (o SaveOptions) Validate() error {
	if o.ObjectsPerTick <= 0 {
		return newError(KindUnsupported, "save", errors.New("objects per tick must be positive"))
	}
	if o.AddDefaultPage {
		return newError(KindUnsupported, "save", errors.New("adding a default page is not supported"))
	}
	return nil
}

// Document is a parsed PDF ready to be written back out.
type Document interface {
	PageCount() int
	Save(ctx context.Context, opts SaveOptions) ([]byte, error)
}

// Engine parses PDF bytes into a Document.
type Engine interface {
	Load(ctx context.Context, data []byte) (Document, error)
}
