package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/peek-go/peek/internal/config"
	"github.com/peek-go/peek/internal/transform"
)

// InstrumentOptions holds flags for the instrument command.
type InstrumentOptions struct {
	*RootOptions
	Write bool
}

// FileReport describes one processed file.
type FileReport struct {
	Path     string `json:"path"`
	Modified bool   `json:"modified"`
	Sites    int    `json:"sites"`
	Skipped  string `json:"skipped,omitempty"` // reason, when not processed
}

// NewInstrumentCommand creates the instrument command.
func NewInstrumentCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InstrumentOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "instrument [paths...]",
		Short: "Rewrite marked constructs to report through the runtime monitor",
		Long: `Rewrite every construct marked with a //? comment in the given files or
directories so its evaluation is reported to the runtime monitor.

Without -w the rewritten source is printed to stdout. With -w files are
rewritten in place. Files that already import the monitor package are
skipped: duplicate-then-real insertion is not idempotent.

Examples:
  peek instrument main.go
  peek instrument -w ./...
  peek instrument -w --config .peek.yaml ./internal`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstrument(opts, cmd, args)
		},
	}

	cmd.Flags().BoolVarP(&opts.Write, "write", "w", false, "rewrite files in place instead of printing to stdout")

	return cmd
}

func runInstrument(opts *InstrumentOptions, cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	files, err := collectGoFiles(args)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to collect files", err)
	}
	if len(files) == 0 {
		return NewExitError(ExitFailure, "no Go files found")
	}
	if !opts.Write && len(files) > 1 {
		return NewExitError(ExitCommandError, "printing to stdout requires a single file; use -w for directories")
	}

	tOpts := transform.Options{
		Enabled: cfg.Enabled,
		Marker:  cfg.Marker,
	}

	var reports []FileReport
	for _, path := range files {
		report, output, err := instrumentFile(path, tOpts)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to instrument %s", path), err)
		}
		reports = append(reports, report)

		if !opts.Write {
			cmd.OutOrStdout().Write(output)
			continue
		}
		if report.Modified {
			if err := os.WriteFile(path, output, 0o644); err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("failed to write %s", path), err)
			}
		}
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), reports)
	}
	if opts.Write {
		printInstrumentSummary(cmd, reports, opts.Verbose, cfg.Output)
	}
	return nil
}

func instrumentFile(path string, tOpts transform.Options) (FileReport, []byte, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return FileReport{}, nil, err
	}

	importPath := tOpts.ImportPath
	if importPath == "" {
		importPath = transform.DefaultImportPath
	}
	if bytes.Contains(src, []byte(importPath)) {
		return FileReport{Path: path, Skipped: "already instrumented"}, src, nil
	}

	result, err := transform.Source(path, src, tOpts)
	if err != nil {
		return FileReport{}, nil, err
	}
	return FileReport{Path: path, Modified: result.Modified, Sites: result.Sites}, result.Output, nil
}

func printInstrumentSummary(cmd *cobra.Command, reports []FileReport, verbose bool, tracePath string) {
	w := cmd.OutOrStdout()
	modified, sites := 0, 0
	for _, r := range reports {
		if r.Modified {
			modified++
			sites += r.Sites
		}
		if verbose {
			switch {
			case r.Skipped != "":
				fmt.Fprintf(w, "  %s (%s)\n", r.Path, r.Skipped)
			case r.Modified:
				fmt.Fprintf(w, "  %s (%d sites)\n", r.Path, r.Sites)
			default:
				fmt.Fprintf(w, "  %s (unchanged)\n", r.Path)
			}
		}
	}
	fmt.Fprintf(w, "%d of %d files instrumented (%d sites); trace writes to %s\n",
		modified, len(reports), sites, tracePath)
}

// collectGoFiles expands file and directory arguments into Go files.
// Hidden, vendor, and testdata directories are skipped.
func collectGoFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			name := d.Name()
			if d.IsDir() {
				if p != path && (strings.HasPrefix(name, ".") || name == "vendor" || name == "testdata") {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasSuffix(name, ".go") {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
