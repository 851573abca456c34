package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/felixgeelhaar/bolt/v3"

	"github.com/pdftools/backend/internal/logging"
	"github.com/pdftools/backend/internal/models"
)

// DefaultFetchTimeout bounds a remote library download.
const DefaultFetchTimeout = 30 * time.Second

// LibraryLoadError reports that a tool could not be shown because its
// library failed to initialize.
type LibraryLoadError struct {
	Library string
	Name    string
	Err     error
}

func (e *LibraryLoadError) Error() string {
	return fmt.Sprintf("loading %s for %s: %v", e.Library, e.Name, e.Err)
}

func (e *LibraryLoadError) Unwrap() error { return e.Err }

// Message is the text shown in the error panel.
func (e *LibraryLoadError) Message() string {
	return fmt.Sprintf("Failed to load %s. Please try again.", e.Name)
}

// ProbeFunc reports whether an optional engine is linked and usable.
type ProbeFunc func() error

type source struct {
	url  string
	file string
}

// Loader makes the library a tool depends on available before the tool is
// shown. Successful loads are recorded in the registry.
type Loader struct {
	registry *Registry
	dir      string
	client   *http.Client
	logger   *bolt.Logger

	mu      sync.Mutex
	probes  map[string]ProbeFunc
	sources map[string]source
}

// NewLoader returns a loader that stores fetched files in dir.
func NewLoader(registry *Registry, dir string, timeout time.Duration, logger *bolt.Logger) *Loader {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Loader{
		registry: registry,
		dir:      dir,
		client:   &http.Client{Timeout: timeout},
		logger:   logging.OrDefault(logger),
		probes:   make(map[string]ProbeFunc),
		sources:  make(map[string]source),
	}
}

// RegisterProbe installs the availability check for a probe name.
func (l *Loader) RegisterProbe(name string, fn ProbeFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.probes[name] = fn
}

// SetSource overrides where a remote library is fetched from.
func (l *Loader) SetSource(library, url, file string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources[library] = source{url: url, file: file}
}

// Dir is the directory remote libraries are stored in.
func (l *Loader) Dir() string {
	return l.dir
}

// Ensure initializes the library of tool. It returns nil when the tool needs
// no library or the library is already loaded, and a *LibraryLoadError
// otherwise.
func (l *Loader) Ensure(ctx context.Context, tool models.ToolDescriptor) error {
	if tool.Library == "" || tool.Loaded {
		return nil
	}
	lib, ok := l.registry.Library(tool.Library)
	if !ok {
		return &LibraryLoadError{Library: tool.Library, Name: tool.Name, Err: errors.New("library is not registered")}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	if err := l.load(ctx, lib); err != nil {
		logging.With(l.logger.Warn(), logging.Tool(tool.ID), logging.ErrorField(err)).
			Str("library", lib.Name).
			Msg("Library failed to load")
		return &LibraryLoadError{Library: displayName(lib), Name: tool.Name, Err: err}
	}

	l.registry.MarkLoaded(lib.Name)
	logging.With(l.logger.Info(), logging.Tool(tool.ID), logging.Duration(time.Since(start))).
		Str("library", lib.Name).
		Msg("Library loaded")
	return nil
}

func (l *Loader) load(ctx context.Context, lib LibrarySpec) error {
	switch lib.Kind {
	case LibraryBuiltin:
		return nil
	case LibraryProbe:
		return l.probe(lib)
	case LibraryRemote:
		if err := l.probe(lib); err != nil {
			return err
		}
		return l.fetch(ctx, lib)
	default:
		return fmt.Errorf("unknown library kind %q", lib.Kind)
	}
}

func (l *Loader) probe(lib LibrarySpec) error {
	for _, name := range lib.Probes {
		fn, ok := l.probes[name]
		if !ok {
			return fmt.Errorf("%s is not available in this build", name)
		}
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) fetch(ctx context.Context, lib LibrarySpec) error {
	src := source{url: lib.URL, file: lib.File}
	if o, ok := l.sources[lib.Name]; ok {
		src = o
	}

	dest := filepath.Join(l.dir, src.file)
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		return nil
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("creating library directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", src.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %s: unexpected status %d", src.url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(l.dir, src.file+".*.part")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	n, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr == nil && n == 0 {
		copyErr = errors.New("empty response")
	}
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("downloading %s: %w", src.file, errors.Join(copyErr, closeErr))
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("installing %s: %w", src.file, err)
	}

	l.logger.Info().Str("file", dest).Int64("bytes", n).Msg("Library data downloaded")
	return nil
}

func displayName(lib LibrarySpec) string {
	if lib.Display != "" {
		return lib.Display
	}
	return lib.Name
}
