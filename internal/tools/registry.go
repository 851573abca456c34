// Package tools maps tool identifiers to their modules and libraries and
// routes each client shell between them.
package tools

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"os"
	"sync"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"

	"github.com/pdftools/backend/internal/logging"
	"github.com/pdftools/backend/internal/models"
)

//go:embed tools.yaml
var builtinRegistry []byte

// ErrUnknownTool is returned for an identifier the registry does not know.
var ErrUnknownTool = errors.New("unknown tool")

// LibraryKind says how a library becomes available.
type LibraryKind string

const (
	// LibraryBuiltin is linked into the binary.
	LibraryBuiltin LibraryKind = "builtin"
	// LibraryProbe is linked only in some builds and must report availability.
	LibraryProbe LibraryKind = "probe"
	// LibraryRemote needs a data file fetched into the library directory.
	LibraryRemote LibraryKind = "remote"
)

// LibrarySpec describes one library a tool can require.
type LibrarySpec struct {
	Name    string      `yaml:"name"`
	Display string      `yaml:"display"`
	Kind    LibraryKind `yaml:"kind"`
	Probes  []string    `yaml:"probes"`
	URL     string      `yaml:"url"`
	File    string      `yaml:"file"`
}

type registryDocument struct {
	Default   string                  `yaml:"default"`
	Libraries []LibrarySpec           `yaml:"libraries"`
	Tools     []models.ToolDescriptor `yaml:"tools"`
}

// Registry is the set of known tools. It is safe for concurrent use and can
// be reloaded in place.
type Registry struct {
	mu          sync.RWMutex
	tools       []models.ToolDescriptor
	index       map[string]int
	libraries   map[string]LibrarySpec
	help        map[string]template.HTML
	defaultTool string

	md     goldmark.Markdown
	logger *bolt.Logger
}

// NewRegistry returns a registry holding the built-in tools.
func NewRegistry(logger *bolt.Logger) (*Registry, error) {
	r := &Registry{
		md:     goldmark.New(),
		logger: logging.OrDefault(logger),
	}
	if err := r.Load(builtinRegistry); err != nil {
		return nil, fmt.Errorf("loading built-in registry: %w", err)
	}
	return r, nil
}

// LoadRegistry returns a registry from path, or the built-in one when path is empty.
func LoadRegistry(path string, logger *bolt.Logger) (*Registry, error) {
	r, err := NewRegistry(logger)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return r, nil
	}
	if err := r.LoadFile(path); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadFile replaces the registry with the document at path.
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening registry: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("reading registry: %w", err)
	}
	return r.Load(data)
}

// Load replaces the registry with a YAML document. Loaded flags of tools
// that survive the reload are kept.
func (r *Registry) Load(data []byte) error {
	var doc registryDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing registry: %w", err)
	}

	libraries := make(map[string]LibrarySpec, len(doc.Libraries))
	for _, lib := range doc.Libraries {
		if lib.Name == "" {
			return errors.New("library without a name")
		}
		switch lib.Kind {
		case LibraryBuiltin, LibraryProbe:
		case LibraryRemote:
			if lib.URL == "" || lib.File == "" {
				return fmt.Errorf("remote library %s needs url and file", lib.Name)
			}
		default:
			return fmt.Errorf("library %s: unknown kind %q", lib.Name, lib.Kind)
		}
		libraries[lib.Name] = lib
	}

	if len(doc.Tools) == 0 {
		return errors.New("registry lists no tools")
	}
	index := make(map[string]int, len(doc.Tools))
	help := make(map[string]template.HTML, len(doc.Tools))
	for i, tool := range doc.Tools {
		if tool.ID == "" {
			return fmt.Errorf("tool %d has no id", i)
		}
		if _, dup := index[tool.ID]; dup {
			return fmt.Errorf("duplicate tool id %s", tool.ID)
		}
		if tool.Library != "" {
			if _, ok := libraries[tool.Library]; !ok {
				return fmt.Errorf("tool %s requires unknown library %s", tool.ID, tool.Library)
			}
		}
		index[tool.ID] = i

		var buf bytes.Buffer
		if err := r.md.Convert([]byte(tool.Help), &buf); err != nil {
			return fmt.Errorf("rendering help for %s: %w", tool.ID, err)
		}
		// goldmark escapes raw HTML unless configured otherwise
		help[tool.ID] = template.HTML(buf.String())
	}

	def := doc.Default
	if def == "" {
		def = doc.Tools[0].ID
	}
	if _, ok := index[def]; !ok {
		return fmt.Errorf("default tool %s is not registered", def)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range doc.Tools {
		t := &doc.Tools[i]
		if t.Library == "" {
			t.Loaded = true
			continue
		}
		if old, ok := r.index[t.ID]; ok && r.tools[old].Library == t.Library {
			t.Loaded = r.tools[old].Loaded
		}
	}

	r.tools = doc.Tools
	r.index = index
	r.libraries = libraries
	r.help = help
	r.defaultTool = def

	r.logger.Debug().Int("tools", len(doc.Tools)).Int("libraries", len(libraries)).Msg("Tool registry loaded")
	return nil
}

// Lookup returns the descriptor for id.
func (r *Registry) Lookup(id string) (models.ToolDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[id]
	if !ok {
		return models.ToolDescriptor{}, fmt.Errorf("%w: %q", ErrUnknownTool, id)
	}
	return r.tools[i], nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[id]
	return ok
}

// List returns every descriptor in registry order.
func (r *Registry) List() []models.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.ToolDescriptor(nil), r.tools...)
}

// Default returns the tool shown when nothing else is requested.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultTool
}

// Library returns the spec for a library name.
func (r *Registry) Library(name string) (LibrarySpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lib, ok := r.libraries[name]
	return lib, ok
}

// Help returns the rendered help for a tool.
func (r *Registry) Help(id string) template.HTML {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.help[id]
}

// MarkLoaded flags every tool requiring library as loaded.
func (r *Registry) MarkLoaded(library string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.tools {
		if r.tools[i].Library == library {
			r.tools[i].Loaded = true
		}
	}
}

// SetDefault changes the default tool. The id must be registered.
func (r *Registry) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[id]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTool, id)
	}
	r.defaultTool = id
	return nil
}
