// Package report summarizes a run and optionally exports it as Prometheus
// text metrics.
package report

import (
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/brianhouk/duplicity-recovery-tools/internal/assemble"
)

// Summary is the aggregate of every outcome in a run.
type Summary struct {
	Succeeded       int
	Failed          int
	Total           int
	Fragments       int
	Bytes           int64
	CleanupFailures int
	Duration        time.Duration
	Failures        []assemble.Outcome
}

// Summarize partitions outcomes into successes and failures.
func Summarize(outcomes []assemble.Outcome, elapsed time.Duration) Summary {
	s := Summary{Total: len(outcomes), Duration: elapsed}
	for _, o := range outcomes {
		if !o.Success {
			s.Failed++
			s.Failures = append(s.Failures, o)
			continue
		}
		s.Succeeded++
		s.Fragments += o.Fragments
		s.Bytes += o.Bytes
		if o.CleanupErr != nil {
			s.CleanupFailures++
		}
	}
	return s
}

// ExitCode is the number of failed groups.
func (s Summary) ExitCode() int {
	return s.Failed
}

// Log writes the final summary block.
func (s Summary) Log(logger *slog.Logger) {
	rule := strings.Repeat("=", 60)
	logger.Info(rule)
	logger.Info("reassembly complete",
		"success", s.Succeeded,
		"errors", s.Failed,
		"total", s.Total,
		"fragments", s.Fragments,
		"bytes", humanize.Comma(s.Bytes),
		"size", humanize.IBytes(uint64(s.Bytes)),
		"elapsed", s.Duration.Round(time.Millisecond),
	)
	if s.CleanupFailures > 0 {
		logger.Warn("some source directories could not be removed", "count", s.CleanupFailures)
	}
	logger.Info(rule)
}
