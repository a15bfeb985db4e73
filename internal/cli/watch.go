package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/peek-go/peek/internal/config"
	"github.com/peek-go/peek/internal/transform"
	"github.com/peek-go/peek/internal/watch"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Re-instrument marked files as they change",
		Long: `Watch the given directories (default ".") and rewrite marked constructs
in place whenever a Go file changes. Stops on interrupt.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(rootOpts, cmd, args)
		},
	}
}

func runWatch(opts *RootOptions, cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if !cfg.Enabled {
		return NewExitError(ExitFailure, "instrumentation is disabled in config")
	}

	roots := args
	if len(roots) == 0 {
		roots = []string{"."}
	}

	logger, err := newLogger(opts.Verbose)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build logger", err)
	}
	defer logger.Sync()

	w, err := watch.New(roots, transform.Options{
		Enabled: true,
		Marker:  cfg.Marker,
	}, cfg.Exclude, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start watcher", err)
	}
	w.Start()

	fmt.Fprintf(cmd.OutOrStdout(), "watching %v (trace writes to %s); Ctrl-C to stop\n", roots, cfg.Output)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	return w.Stop()
}

// newLogger builds the CLI's structured logger. Verbose enables debug
// level.
func newLogger(verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zc.Build()
}
