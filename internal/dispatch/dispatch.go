// Package dispatch fans leaf groups out to workers and collects their
// outcomes.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/brianhouk/duplicity-recovery-tools/internal/assemble"
	"github.com/brianhouk/duplicity-recovery-tools/internal/fragment"
	"github.com/brianhouk/duplicity-recovery-tools/internal/progress"
)

// ErrInterrupted is returned when the run was cancelled before every group
// was handed to a worker.
var ErrInterrupted = errors.New("interrupted")

// Task processes one group. *assemble.Runner satisfies it.
type Task interface {
	Run(group fragment.LeafGroup) assemble.Outcome
}

// Config controls a Dispatcher.
type Config struct {
	Workers    int
	OutputRoot string
	DryRun     bool
}

// Dispatcher runs every discovered group exactly once.
type Dispatcher struct {
	cfg    Config
	task   Task
	logger *slog.Logger
}

// New returns a Dispatcher. Workers below 1 are treated as 1.
func New(cfg Config, task Task, logger *slog.Logger) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Dispatcher{cfg: cfg, task: task, logger: logger}
}

// Run executes task for every group and returns their outcomes in the order
// of groups. Groups never handed out because ctx was cancelled have no
// outcome; in that case the error wraps ErrInterrupted and the slice holds
// only the outcomes that finished.
//
// The only fatal error besides interruption is failing to create the output
// root. Zero groups is not an error.
func (d *Dispatcher) Run(ctx context.Context, groups []fragment.LeafGroup) ([]assemble.Outcome, error) {
	if len(groups) == 0 {
		d.logger.Warn("no leaf directories found to reassemble")
		return nil, nil
	}

	if !d.cfg.DryRun {
		if err := os.MkdirAll(d.cfg.OutputRoot, 0755); err != nil {
			return nil, fmt.Errorf("create output directory %s: %w", d.cfg.OutputRoot, err)
		}
	}

	d.logger.Info("starting reassembly", "workers", d.cfg.Workers, "groups", len(groups))

	if d.cfg.Workers == 1 {
		return d.runSequential(ctx, groups)
	}
	return d.runParallel(ctx, groups)
}

func (d *Dispatcher) runSequential(ctx context.Context, groups []fragment.LeafGroup) ([]assemble.Outcome, error) {
	outcomes := make([]assemble.Outcome, 0, len(groups))
	for i, group := range groups {
		if ctx.Err() != nil {
			return outcomes, d.interrupted(ctx, len(outcomes), len(groups))
		}
		out := d.task.Run(group)
		outcomes = append(outcomes, out)
		d.logOutcome(out)

		if done := i + 1; progress.ShouldReport(done, len(groups)) {
			progress.Log(d.logger, done, len(groups))
		}
	}
	return outcomes, nil
}

func (d *Dispatcher) runParallel(ctx context.Context, groups []fragment.LeafGroup) ([]assemble.Outcome, error) {
	workers := min(d.cfg.Workers, len(groups))
	tracker := progress.New(len(groups), d.logger)

	type job struct {
		index int
		group fragment.LeafGroup
	}
	jobs := make(chan job)
	results := make([]assemble.Outcome, len(groups))
	finished := make([]bool, len(groups))

	// Workers never return an error: every failure is already part of the
	// outcome. The group only coordinates start and wait.
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for j := range jobs {
				out := d.task.Run(j.group)
				results[j.index] = out
				finished[j.index] = true
				d.logOutcome(out)
				tracker.Record(out.Bytes)
			}
			return nil
		})
	}

	sent := 0
feed:
	for i, group := range groups {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- job{index: i, group: group}:
			sent++
		}
	}
	close(jobs)
	_ = g.Wait()
	tracker.Close()

	if sent < len(groups) {
		outcomes := make([]assemble.Outcome, 0, sent)
		for i := range results {
			if finished[i] {
				outcomes = append(outcomes, results[i])
			}
		}
		return outcomes, d.interrupted(ctx, len(outcomes), len(groups))
	}
	return results, nil
}

func (d *Dispatcher) interrupted(ctx context.Context, done, total int) error {
	d.logger.Error("interrupted, stopped handing out groups", "done", done, "total", total)
	return fmt.Errorf("%w after %d of %d groups: %v", ErrInterrupted, done, total, context.Cause(ctx))
}

func (d *Dispatcher) logOutcome(out assemble.Outcome) {
	if out.Success {
		d.logger.Debug("✓ "+filepath.Base(out.OutputPath), "result", out.Message)
		return
	}
	d.logger.Error("✗ "+out.Group.Path, "result", out.Message)
}
