package tools

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"

	"github.com/pdftools/backend/internal/models"
)

// Action is a request the client may issue from a mounted panel. Endpoint
// may contain a {session} placeholder filled in by the client.
type Action struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Method   string `json:"method"`
	Endpoint string `json:"endpoint"`
}

// Area is the shell content area a tool module renders into.
type Area struct {
	Tool    string        `json:"tool"`
	HTML    template.HTML `json:"html"`
	Actions []Action      `json:"actions,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Mounter is a module that fills the content area in a single step.
type Mounter interface {
	Mount(area *Area) error
}

// Renderer produces the markup of a module.
type Renderer interface {
	Render() (template.HTML, error)
}

// Binder attaches the actions of a module to an area that already holds
// its markup.
type Binder interface {
	Bind(area *Area)
}

var errNoEntryPoint = errors.New("module exposes no entry point")

// mount puts module into area using whichever capability it has.
func mount(module any, area *Area) error {
	if m, ok := module.(Mounter); ok {
		return m.Mount(area)
	}
	r, isRenderer := module.(Renderer)
	b, isBinder := module.(Binder)
	if !isRenderer || !isBinder {
		return errNoEntryPoint
	}
	html, err := r.Render()
	if err != nil {
		return err
	}
	area.HTML = html
	b.Bind(area)
	return nil
}

// field is one input of a form panel.
type field struct {
	Name     string
	Label    string
	Type     string
	Accept   string
	Multiple bool
	Value    string
}

// formModule is the single-request panel used by every tool except the
// compressor.
type formModule struct {
	tool   models.ToolDescriptor
	help   template.HTML
	fields []field
}

func (m formModule) Mount(area *Area) error {
	var buf bytes.Buffer
	err := panelTemplate.Execute(&buf, map[string]any{
		"Tool":     m.tool,
		"Help":     m.help,
		"Fields":   m.fields,
		"Endpoint": toolEndpoint(m.tool.ID),
	})
	if err != nil {
		return fmt.Errorf("rendering %s panel: %w", m.tool.ID, err)
	}
	area.HTML = template.HTML(buf.String())
	area.Actions = []Action{{ID: "run", Label: m.tool.Name, Method: "POST", Endpoint: toolEndpoint(m.tool.ID)}}
	return nil
}

// compressorModule renders the four-section upload flow and binds the
// session endpoints that drive it.
type compressorModule struct {
	tool models.ToolDescriptor
	help template.HTML
}

func (m compressorModule) Render() (template.HTML, error) {
	var buf bytes.Buffer
	err := compressorTemplate.Execute(&buf, map[string]any{
		"Tool":     m.tool,
		"Help":     m.help,
		"Sections": models.AllPhases,
		"Initial":  models.PhaseUpload,
	})
	if err != nil {
		return "", fmt.Errorf("rendering compressor panel: %w", err)
	}
	return template.HTML(buf.String()), nil
}

func (m compressorModule) Bind(area *Area) {
	const base = "/api/sessions/{session}"
	area.Actions = []Action{
		{ID: "start", Label: "New session", Method: "POST", Endpoint: "/api/sessions"},
		{ID: "upload", Label: "Choose PDF", Method: "POST", Endpoint: base + "/file"},
		{ID: "compress", Label: "Compress PDF", Method: "POST", Endpoint: base + "/compress"},
		{ID: "cancel", Label: "Cancel", Method: "POST", Endpoint: base + "/cancel"},
		{ID: "download", Label: "Download", Method: "POST", Endpoint: base + "/download"},
		{ID: "reset", Label: "Compress another", Method: "POST", Endpoint: base + "/reset"},
		{ID: "status", Label: "Status", Method: "GET", Endpoint: "/api/ws/sessions/{session}"},
	}
}

func toolEndpoint(id string) string {
	return "/api/tools/" + id
}

const pdfAccept = "application/pdf,.pdf"
const imageAccept = "image/*"

var toolFields = map[string][]field{
	"viewer": {
		{Name: "file", Label: "PDF file", Type: "file", Accept: pdfAccept},
		{Name: "pages", Label: "Pages", Type: "text", Value: "1"},
	},
	"merge": {
		{Name: "files", Label: "PDF files", Type: "file", Accept: pdfAccept, Multiple: true},
	},
	"split": {
		{Name: "file", Label: "PDF file", Type: "file", Accept: pdfAccept},
		{Name: "span", Label: "Pages per part", Type: "number", Value: "1"},
	},
	"pdf-to-images": {
		{Name: "file", Label: "PDF file", Type: "file", Accept: pdfAccept},
		{Name: "dpi", Label: "Resolution (DPI)", Type: "number", Value: "150"},
	},
	"images-to-pdf": {
		{Name: "files", Label: "Images", Type: "file", Accept: imageAccept, Multiple: true},
	},
	"text-extractor": {
		{Name: "file", Label: "PDF file", Type: "file", Accept: pdfAccept},
	},
	"ocr": {
		{Name: "file", Label: "PDF file", Type: "file", Accept: pdfAccept},
		{Name: "pages", Label: "Pages", Type: "text"},
	},
}

// moduleFor returns the module implementing tool.
func moduleFor(tool models.ToolDescriptor, help template.HTML) any {
	if tool.ID == "compressor" {
		return compressorModule{tool: tool, help: help}
	}
	fields, ok := toolFields[tool.ID]
	if !ok {
		fields = []field{{Name: "file", Label: "File", Type: "file"}}
	}
	return formModule{tool: tool, help: help, fields: fields}
}

// errorArea is the inline panel shown when a tool cannot be loaded.
func errorArea(tool string, loadErr *LibraryLoadError) Area {
	var buf bytes.Buffer
	detail := ""
	if loadErr.Err != nil {
		detail = loadErr.Err.Error()
	}
	if err := errorTemplate.Execute(&buf, map[string]string{
		"Title":   "Error Loading Tool",
		"Message": loadErr.Message(),
		"Detail":  detail,
	}); err != nil {
		// the template is static; fall back to plain text
		return Area{Tool: tool, HTML: template.HTML(template.HTMLEscapeString(loadErr.Message())), Error: loadErr.Message()}
	}
	return Area{Tool: tool, HTML: template.HTML(buf.String()), Error: loadErr.Message()}
}
