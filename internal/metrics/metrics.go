// Package metrics records the outcome of backup and restore runs in a
// Prometheus registry that can be written out for the node_exporter
// textfile collector.
package metrics

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run is the outcome of one backup or restore.
type Run struct {
	Operation string // backup or restore
	Status    string
	Started   time.Time
	Ended     time.Time
	Bytes     int64
	Files     int
	Warnings  int
}

type Recorder struct {
	reg         *prometheus.Registry
	runs        *prometheus.CounterVec
	duration    *prometheus.GaugeVec
	lastSuccess *prometheus.GaugeVec
	bytes       *prometheus.GaugeVec
	files       *prometheus.GaugeVec
	warnings    *prometheus.GaugeVec
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sbu_runs_total",
			Help: "Backup and restore runs by outcome",
		}, []string{"operation", "status"}),
		duration: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sbu_last_run_duration_seconds",
			Help: "Duration of the last run",
		}, []string{"operation"}),
		lastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sbu_last_success_timestamp_seconds",
			Help: "Unix time the last successful run finished",
		}, []string{"operation"}),
		bytes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sbu_last_run_bytes",
			Help: "Artifact size of the last backup or restored bytes of the last restore",
		}, []string{"operation"}),
		files: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sbu_last_run_media_files",
			Help: "Media files handled by the last run",
		}, []string{"operation"}),
		warnings: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sbu_last_run_warnings",
			Help: "Partial failures logged by the last run",
		}, []string{"operation"}),
	}
}

func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Observe updates the metrics for a finished run.
func (r *Recorder) Observe(run Run) {
	r.runs.WithLabelValues(run.Operation, run.Status).Inc()
	r.duration.WithLabelValues(run.Operation).Set(run.Ended.Sub(run.Started).Seconds())
	r.warnings.WithLabelValues(run.Operation).Set(float64(run.Warnings))
	if run.Status != "success" {
		return
	}
	r.lastSuccess.WithLabelValues(run.Operation).Set(float64(run.Ended.Unix()))
	r.bytes.WithLabelValues(run.Operation).Set(float64(run.Bytes))
	r.files.WithLabelValues(run.Operation).Set(float64(run.Files))
}

// WriteTextfile atomically writes the registry to path in the text
// exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, r.reg)
}
