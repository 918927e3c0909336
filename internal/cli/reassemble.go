// Package cli wires configuration, discovery, dispatch and reporting into
// the reassemble command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/brianhouk/duplicity-recovery-tools/internal/assemble"
	"github.com/brianhouk/duplicity-recovery-tools/internal/bufpool"
	"github.com/brianhouk/duplicity-recovery-tools/internal/config"
	"github.com/brianhouk/duplicity-recovery-tools/internal/dispatch"
	"github.com/brianhouk/duplicity-recovery-tools/internal/fragment"
	"github.com/brianhouk/duplicity-recovery-tools/internal/logging"
	"github.com/brianhouk/duplicity-recovery-tools/internal/report"
)

const appName = "reassemble"

// Exit statuses besides the failed-group count.
const (
	ExitFatal       = 1
	ExitInterrupted = 130
	// maxFailureStatus keeps large failure counts clear of the signal range.
	maxFailureStatus = 125
)

const examples = `  # Reassemble with default workers (CPU count - 1)
  reassemble snapshot-multivol snapshot

  # Use 8 workers and cleanup multivol directories after success
  reassemble snapshot-multivol snapshot --workers 8 --cleanup

  # Dry run to see what would be assembled
  reassemble snapshot-multivol snapshot --dry-run

  # Verbose logging
  reassemble snapshot-multivol snapshot -v`

// Main runs the command against the process arguments and returns the exit
// status. The first SIGINT or SIGTERM stops the run; a second one kills the
// process.
func Main() int {
	ctx, stop := signalContext(context.Background())
	defer stop()
	return Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

// signalContext is cancelled by the first interrupt. Catching stops as soon
// as that happens, so the next signal gets the default action.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	context.AfterFunc(ctx, stop)
	return ctx, stop
}

// Execute runs the command with explicit arguments and writers. Logs go to
// stdout, usage and argument errors to stderr.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitFatal
	}

	code := 0
	cmd := &cobra.Command{
		Use:           appName + " <multivol_dir> <output_dir>",
		Short:         "Reassemble multi-volume snapshot files in parallel",
		Example:       examples,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Finalize(args); err != nil {
				return err
			}
			logger := logging.NewWithWriter(stdout, appName, cfg.LogLevel)
			code = run(cmd.Context(), cfg, logger)
			return nil
		},
	}
	cfg.Register(cmd.Flags())
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		fmt.Fprintln(stderr, cmd.UsageString())
		return ExitFatal
	}
	return code
}

// run performs one reassembly and maps the result to an exit status.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	start := time.Now()
	logger.Info("multi-volume directory", "path", cfg.SourceDir)
	logger.Info("output directory", "path", cfg.OutputDir)
	logger.Info("settings",
		"workers", cfg.Workers,
		"chunk_size", humanize.IBytes(uint64(cfg.ChunkSize)),
		"cleanup", cfg.Cleanup,
		"dry_run", cfg.DryRun,
	)

	groups, err := fragment.Locate(ctx, cfg.SourceDir, logger)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Error("interrupted by user")
			return ExitInterrupted
		}
		logger.Error("fatal error", "err", err)
		return ExitFatal
	}

	runner := assemble.NewRunner(assemble.Options{
		OutputRoot: cfg.OutputDir,
		Cleanup:    cfg.Cleanup,
		DryRun:     cfg.DryRun,
	}, bufpool.New(cfg.ChunkSize), logger)

	d := dispatch.New(dispatch.Config{
		Workers:    cfg.Workers,
		OutputRoot: cfg.OutputDir,
		DryRun:     cfg.DryRun,
	}, runner, logger)

	outcomes, err := d.Run(ctx, groups)
	interrupted := errors.Is(err, dispatch.ErrInterrupted)
	if err != nil && !interrupted {
		logger.Error("fatal error", "err", err)
		return ExitFatal
	}

	summary := report.Summarize(outcomes, time.Since(start))
	if len(groups) > 0 {
		summary.Log(logger)
	}
	if cfg.MetricsFile != "" {
		if err := report.WriteMetrics(cfg.MetricsFile, summary, cfg.DryRun); err != nil {
			logger.Warn("cannot write metrics", "err", err)
		}
	}

	if interrupted {
		logger.Error("interrupted by user", "err", err)
		return ExitInterrupted
	}
	return min(summary.ExitCode(), maxFailureStatus)
}
