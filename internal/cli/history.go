package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/peek-go/peek/internal/history"
	"github.com/peek-go/peek/pkg/trace"
)

// HistoryOptions holds flags for the history command family.
type HistoryOptions struct {
	*RootOptions
	Database string
}

// NewHistoryCommand creates the history command and its subcommands.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Archive and query traces from past runs",
		Long: `The trace file is overwritten on every program run. The history archive
imports trace files into a SQLite database so past runs stay queryable.`,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "peek.history.db", "path to the archive database")

	cmd.AddCommand(newHistoryImportCommand(opts))
	cmd.AddCommand(newHistoryShowCommand(opts))

	return cmd
}

func newHistoryImportCommand(opts *HistoryOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "import <trace-file>",
		Short:         "Archive a trace file as a new run",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := trace.Load(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load trace", err)
			}
			if len(records) == 0 {
				return NewExitError(ExitFailure, "trace is empty; nothing to import")
			}

			db, err := history.Open(opts.Database)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open archive", err)
			}
			defer db.Close()

			runID, err := db.Import(context.Background(), args[0], records)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to import trace", err)
			}

			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"run_id":  runID,
					"records": len(records),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d records as run %s\n", len(records), runID)
			return nil
		},
	}
}

func newHistoryShowCommand(opts *HistoryOptions) *cobra.Command {
	var (
		runID string
		kind  string
	)

	cmd := &cobra.Command{
		Use:           "show",
		Short:         "List archived runs, or the records of one run",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := history.Open(opts.Database)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open archive", err)
			}
			defer db.Close()

			ctx := context.Background()
			w := cmd.OutOrStdout()

			if runID == "" {
				runs, err := db.Runs(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to list runs", err)
				}
				if opts.Format == "json" {
					return writeJSON(w, runs)
				}
				if len(runs) == 0 {
					fmt.Fprintln(w, "(no runs)")
					return nil
				}
				for _, run := range runs {
					fmt.Fprintf(w, "%s  %s  %d records  %s\n",
						run.ID, run.ImportedAt.Format("2006-01-02 15:04:05"), run.Records, run.SourcePath)
				}
				return nil
			}

			records, err := db.Records(ctx, runID, trace.Kind(kind))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read run", err)
			}
			if opts.Format == "json" {
				return writeJSON(w, records)
			}
			if len(records) == 0 {
				fmt.Fprintln(w, "(no records)")
				return nil
			}
			for _, r := range records {
				fmt.Fprintln(w, trace.FormatRecord(r))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "show the records of this run")
	cmd.Flags().StringVar(&kind, "kind", "", "filter records by kind")

	return cmd
}
