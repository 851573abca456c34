package testutil

import (
	"context"
	"sync"

	"github.com/pdftools/backend/internal/pdf"
)

// FakeEngine is a scripted pdf.Engine.
type FakeEngine struct {
	// Output is returned by Save. When nil, Save returns the loaded input.
	Output []byte
	Pages  int

	LoadErr error
	SaveErr error
	// SavePanic makes Save panic with the given value.
	SavePanic any

	mu       sync.Mutex
	loads    int
	lastOpts pdf.SaveOptions
	// gate, when set, blocks Save until it is closed.
	gate chan struct{}
}

// NewFakeEngine returns an engine that writes out.
func NewFakeEngine(out []byte) *FakeEngine {
	return &FakeEngine{Output: out, Pages: 1}
}

// Block makes every Save wait until the returned function is called.
func (f *FakeEngine) Block() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	gate := f.gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Load implements pdf.Engine.
func (f *FakeEngine) Load(_ context.Context, data []byte) (pdf.Document, error) {
	f.mu.Lock()
	f.loads++
	f.mu.Unlock()
	if f.LoadErr != nil {
		return nil, f.LoadErr
	}
	return &fakeDocument{engine: f, input: data}, nil
}

// Loads returns how many times Load was called.
func (f *FakeEngine) Loads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

// LastOptions returns the options passed to the most recent Save.
func (f *FakeEngine) LastOptions() pdf.SaveOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOpts
}

type fakeDocument struct {
	engine *FakeEngine
	input  []byte
}

func (d *fakeDocument) PageCount() int { return d.engine.Pages }

func (d *fakeDocument) Save(ctx context.Context, opts pdf.SaveOptions) ([]byte, error) {
	f := d.engine
	f.mu.Lock()
	f.lastOpts = opts
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.SavePanic != nil {
		panic(f.SavePanic)
	}
	if f.SaveErr != nil {
		return nil, f.SaveErr
	}
	if f.Output == nil {
		return d.input, nil
	}
	return f.Output, nil
}

var _ pdf.Engine = (*FakeEngine)(nil)
