package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pdftools/backend/internal/compress"
	"github.com/pdftools/backend/internal/logging"
	"github.com/pdftools/backend/internal/models"
	"github.com/pdftools/backend/internal/pdf"
	"github.com/pdftools/backend/internal/storage"
	"github.com/pdftools/backend/internal/validator"
)

// compressOptions holds options for the compress command.
type compressOptions struct {
	output  string
	maxSize int64
	verbose bool
}

func (a *App) newCompressCmd() *cobra.Command {
	opts := &compressOptions{}

	cmd := &cobra.Command{
		Use:   "compress <in.pdf>",
		Short: "Compress a PDF file without starting the server",
		Long: `Compress a PDF the same way the web compressor does: validate it, rewrite
it with object streams and report the size difference.

Examples:
  # Writes report-compressed.pdf next to the input
  pdftools compress report.pdf

  # Choose the output path
  pdftools compress report.pdf -o small.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.compressFile(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output path (default <name>-compressed.pdf)")
	cmd.Flags().Int64Var(&opts.maxSize, "max-size", validator.DefaultMaxSize, "Maximum input size in bytes")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print progress")

	return cmd
}

func (a *App) compressFile(cmd *cobra.Command, input string, opts *compressOptions) error {
	stat, err := os.Stat(input)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	v := validator.New(validator.WithMaxSize(opts.maxSize))
	if err := v.Check(filepath.Base(input), "", stat.Size()); err != nil {
		return err
	}

	work, err := os.MkdirTemp("", "pdftools-*")
	if err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}
	defer os.RemoveAll(work)

	store, err := storage.NewLocalStore(work)
	if err != nil {
		return err
	}
	f, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	info, err := store.Save(filepath.Base(input), "application/pdf", models.FileKindUpload, f)
	f.Close()
	if err != nil {
		return err
	}

	logger := logging.Discard()
	orch := compress.New(pdf.NewPDFCPU(logger), store, nil, compress.DefaultConfig(), logger)
	defer orch.Close()

	var report compress.Reporter
	if opts.verbose {
		report = func(status string, progress float64) {
			fmt.Fprintf(a.stderr, "[%3.0f%%] %s\n", progress, status)
		}
	}

	result, err := orch.Run(cmd.Context(), compress.Job{SessionID: "cli", Tool: "compressor", File: info}, report)
	if err != nil {
		return errors.New(compress.UserMessage(err))
	}

	data, err := store.ReadAll(result.FileID)
	if err != nil {
		return err
	}
	output := opts.output
	if output == "" {
		output = filepath.Join(filepath.Dir(input), result.DownloadName)
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	fmt.Fprintf(a.stdout, "%s\n", result.Summary)
	fmt.Fprintf(a.stdout, "  %s -> %s\n", validator.FormatFileSize(result.OriginalSize), validator.FormatFileSize(result.CompressedSize))
	fmt.Fprintf(a.stdout, "  Written to %s\n", output)
	return nil
}
