package assemble

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/brianhouk/duplicity-recovery-tools/internal/bufpool"
	"github.com/brianhouk/duplicity-recovery-tools/internal/fragment"
)

// ErrNoFragments is the failure for a group whose directory held nothing
// to assemble by the time it was processed.
var ErrNoFragments = errors.New("no numeric fragments found")

// Outcome is the result for one leaf group. Outcomes never refer to each
// other.
type Outcome struct {
	Group      fragment.LeafGroup
	Success    bool
	Message    string
	OutputPath string
	Fragments  int
	Bytes      int64
	Duration   time.Duration
	Err        error // set when Success is false
	CleanupErr error // removal of the source directory failed; Success is unaffected
}

// Options configure a Runner.
type Options struct {
	OutputRoot string
	Cleanup    bool
	DryRun     bool
}

// Runner executes the per-group pipeline: order fragments, stream them to
// the output path, then optionally remove the source directory.
// A Runner is safe for concurrent use; every call touches a distinct
// group and output path.
type Runner struct {
	opts   Options
	pool   *bufpool.Pool
	logger *slog.Logger
	remove func(path string) error // source cleanup; os.RemoveAll outside tests
}

// NewRunner returns a Runner that copies through buffers from pool.
func NewRunner(opts Options, pool *bufpool.Pool, logger *slog.Logger) *Runner {
	return &Runner{opts: opts, pool: pool, logger: logger, remove: os.RemoveAll}
}

// OutputPath maps a group onto its reassembled file.
func (r *Runner) OutputPath(group fragment.LeafGroup) string {
	return filepath.Join(r.opts.OutputRoot, group.RelPath)
}

// Run processes group and always returns an Outcome. Errors and panics
// inside the pipeline become a failed Outcome.
func (r *Runner) Run(group fragment.LeafGroup) (out Outcome) {
	start := time.Now()
	out = Outcome{Group: group, OutputPath: r.OutputPath(group)}

	defer func() {
		if p := recover(); p != nil {
			out.Success = false
			out.Err = fmt.Errorf("panic: %v", p)
		}
		if out.Err != nil {
			out.Message = "Error: " + out.Err.Error()
		}
		out.Duration = time.Since(start)
	}()

	if group.RelPath == "" || group.RelPath == "." {
		out.Err = fmt.Errorf("source root %s is itself a leaf directory; no output name to write", group.Path)
		return out
	}

	seq, err := fragment.Order(group, r.logger)
	if err != nil {
		out.Err = err
		return out
	}

	if r.opts.DryRun {
		return r.dryRun(out, seq)
	}

	res, err := Stream(seq, out.OutputPath, r.pool)
	out.Fragments, out.Bytes = res.Fragments, res.Bytes
	if err != nil {
		out.Err = err
		return out
	}
	if res.Fragments == 0 {
		out.Err = ErrNoFragments
		return out
	}

	out.Success = true
	out.Message = fmt.Sprintf("Assembled %d fragments → %s bytes", res.Fragments, humanize.Comma(res.Bytes))

	if r.opts.Cleanup {
		if err := r.remove(group.Path); err != nil {
			out.CleanupErr = err
			r.logger.Warn("failed to cleanup", "dir", group.Path, "err", err)
		}
	}
	return out
}

// dryRun counts what a live run would copy without opening anything for
// writing.
func (r *Runner) dryRun(out Outcome, seq *fragment.Sequence) Outcome {
	for {
		frag, ok := seq.Next()
		if !ok {
			break
		}
		info, err := os.Stat(frag.Path)
		if err != nil {
			out.Err = fmt.Errorf("stat fragment: %w", err)
			return out
		}
		out.Fragments++
		out.Bytes += info.Size()
	}
	if out.Fragments == 0 {
		out.Err = ErrNoFragments
		return out
	}
	out.Success = true
	out.Message = fmt.Sprintf("DRY RUN: would assemble %d fragments (%s bytes)", out.Fragments, humanize.Comma(out.Bytes))
	return out
}
