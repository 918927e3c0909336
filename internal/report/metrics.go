package report

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// WriteMetrics writes s to path in the Prometheus text format, suitable for
// the node_exporter textfile collector. The file is replaced atomically.
func WriteMetrics(path string, s Summary, dryRun bool) error {
	reg := prometheus.NewRegistry()

	groups := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reassemble_groups",
		Help: "Leaf groups processed in the last run, by outcome.",
	}, []string{"outcome"})
	fragments := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reassemble_fragments",
		Help: "Fragments assembled by successful groups in the last run.",
	})
	bytes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reassemble_bytes",
		Help: "Bytes written by successful groups in the last run.",
	})
	cleanup := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reassemble_cleanup_failures",
		Help: "Successful groups whose source directory could not be removed.",
	})
	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reassemble_duration_seconds",
		Help: "Wall time of the last run.",
	})
	dry := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reassemble_dry_run",
		Help: "1 if the last run was a dry run.",
	})

	reg.MustRegister(groups, fragments, bytes, cleanup, duration, dry)

	groups.WithLabelValues("success").Set(float64(s.Succeeded))
	groups.WithLabelValues("failure").Set(float64(s.Failed))
	fragments.Set(float64(s.Fragments))
	bytes.Set(float64(s.Bytes))
	cleanup.Set(float64(s.CleanupFailures))
	duration.Set(s.Duration.Seconds())
	if dryRun {
		dry.Set(1)
	}

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
