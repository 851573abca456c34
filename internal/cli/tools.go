package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdftools/backend/internal/logging"
	"github.com/pdftools/backend/internal/pdf"
	"github.com/pdftools/backend/internal/tools"
)

// toolsOptions holds options for the tools command.
type toolsOptions struct {
	registry string
}

func (a *App) newToolsCmd() *cobra.Command {
	opts := &toolsOptions{}

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the registered tools and their libraries",
		Long: `List every tool in the registry with the library it needs and whether that
library is usable in this build.

Examples:
  # Built-in registry
  pdftools tools

  # Check an override file before deploying it
  pdftools tools --registry tools.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listTools(opts)
		},
	}

	cmd.Flags().StringVar(&opts.registry, "registry", "", "Registry YAML file (default built-in)")

	return cmd
}

func (a *App) listTools(opts *toolsOptions) error {
	registry, err := tools.LoadRegistry(opts.registry, logging.Discard())
	if err != nil {
		return fmt.Errorf("loading tool registry: %w", err)
	}

	probes := map[string]func() error{
		"fitz": pdf.NewRenderer(nil).Available,
		"ocr":  pdf.NewOCR("eng", "", nil).Available,
	}

	_, _ = fmt.Fprintf(a.stdout, "Tools (%d):\n", len(registry.List()))
	for _, t := range registry.List() {
		marker := " "
		if t.ID == registry.Default() {
			marker = "*"
		}
		library, status := "-", "ready"
		if spec, ok := registry.Library(t.Library); ok {
			library = spec.Name
			status = libraryStatus(spec, probes)
		}
		_, _ = fmt.Fprintf(a.stdout, "%s %-16s %-16s %-12s %s\n", marker, t.ID, t.Name, library, status)
	}
	return nil
}

func libraryStatus(spec tools.LibrarySpec, probes map[string]func() error) string {
	for _, name := range spec.Probes {
		probe, ok := probes[name]
		if !ok || probe() != nil {
			return "unavailable in this build"
		}
	}
	if spec.Kind == tools.LibraryRemote {
		return "fetched on first use"
	}
	return "ready"
}
