// Package progress counts completed groups across workers and logs a status
// line every tenth completion and at the last one.
package progress

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Interval is the completion cadence at which status lines are logged.
const Interval = 10

// Stats is a point-in-time view of a Tracker.
type Stats struct {
	Done      int
	Total     int
	Bytes     int64
	Percent   float64
	StartedAt time.Time
}

// Tracker aggregates completions sent by workers. Record only sends on a
// channel; a single goroutine owns the counters.
type Tracker struct {
	total  int
	logger *slog.Logger
	now    func() time.Time

	events chan int64
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	stats Stats
}

// New starts a tracker expecting total completions.
func New(total int, logger *slog.Logger) *Tracker {
	return NewWithNow(total, logger, time.Now)
}

// NewWithNow is New with a custom time source (for tests).
func NewWithNow(total int, logger *slog.Logger, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	t := &Tracker{
		total:  total,
		logger: logger,
		now:    now,
		events: make(chan int64, 64),
		done:   make(chan struct{}),
	}
	t.stats = Stats{Total: total, StartedAt: now()}
	go t.aggregate()
	return t
}

// Record reports one finished group that wrote n bytes.
// It must not be called after Close.
func (t *Tracker) Record(n int64) {
	t.events <- n
}

// Close stops accepting completions, waits for the aggregator to drain and
// returns the final stats. Close is idempotent.
func (t *Tracker) Close() Stats {
	t.once.Do(func() { close(t.events) })
	<-t.done
	return t.Snapshot()
}

// Snapshot returns the counts processed so far.
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *Tracker) aggregate() {
	defer close(t.done)
	for n := range t.events {
		t.mu.Lock()
		t.stats.Done++
		t.stats.Bytes += n
		t.stats.Percent = percent(t.stats.Done, t.total)
		stats := t.stats
		t.mu.Unlock()

		if ShouldReport(stats.Done, t.total) {
			elapsed := t.now().Sub(stats.StartedAt)
			t.logger.Info("progress",
				"done", stats.Done,
				"total", t.total,
				"percent", roundPercent(stats.Percent),
				"written", humanize.IBytes(uint64(stats.Bytes)),
				"elapsed", elapsed.Round(time.Millisecond),
			)
		}
	}
}

// ShouldReport tells whether a status line is due after done completions.
func ShouldReport(done, total int) bool {
	return done > 0 && (done%Interval == 0 || done == total)
}

// Log writes the status line used by the sequential path, which counts
// locally instead of through a Tracker.
func Log(logger *slog.Logger, done, total int) {
	logger.Info("progress", "done", done, "total", total, "percent", roundPercent(percent(done, total)))
}

func percent(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}

func roundPercent(p float64) float64 {
	return float64(int64(p*10+0.5)) / 10
}
