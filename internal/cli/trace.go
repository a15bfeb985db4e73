package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/peek-go/peek/internal/config"
	"github.com/peek-go/peek/pkg/trace"
)

// TraceOptions holds flags for the trace command family.
type TraceOptions struct {
	*RootOptions
	File string
}

// NewTraceCommand creates the trace command and its subcommands.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect and manage the persisted trace",
	}

	cmd.PersistentFlags().StringVar(&opts.File, "file", "", "trace file (default from config, then PEEK_TRACE_FILE)")

	cmd.AddCommand(newTraceShowCommand(opts))
	cmd.AddCommand(newTraceClearCommand(opts))
	cmd.AddCommand(newTraceSnapshotCommand(opts))

	return cmd
}

// accessor resolves the trace file path: --file flag, then environment,
// then project config.
func (opts *TraceOptions) accessor() (*trace.Accessor, error) {
	path := opts.File
	if path == "" {
		path = os.Getenv(trace.PathEnv)
	}
	if path == "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		path = cfg.Output
	}
	return trace.NewAccessor(path), nil
}

func newTraceShowCommand(opts *TraceOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the persisted trace, one line per record",
		Long: `Print the persisted trace, one line per record, annotated with each
record's kind, line number, and base file name.

Examples:
  peek trace show
  peek trace show --file peek.trace.json --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := opts.accessor()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to resolve trace file", err)
			}
			if opts.Format == "json" {
				records, err := acc.GetAll()
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read trace", err)
				}
				return writeJSON(cmd.OutOrStdout(), records)
			}
			if err := acc.Print(cmd.OutOrStdout()); err != nil {
				return WrapExitError(ExitCommandError, "failed to read trace", err)
			}
			return nil
		},
	}
}

func newTraceClearCommand(opts *TraceOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "clear",
		Short:         "Delete the persisted trace file",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := opts.accessor()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to resolve trace file", err)
			}
			if err := acc.Clear(); err != nil {
				return WrapExitError(ExitCommandError, "failed to clear trace", err)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"cleared": acc.Path})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", acc.Path)
			return nil
		},
	}
}

func newTraceSnapshotCommand(opts *TraceOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Emit a redacted snapshot for portable comparison",
		Long: `Emit the persisted trace with file paths reduced to their base name, in
canonical JSON, suitable for committing as a golden file or diffing across
machines.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := opts.accessor()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to resolve trace file", err)
			}
			data, err := acc.SnapshotJSON()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to build snapshot", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
