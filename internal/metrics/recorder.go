// Package metrics records the outcome of a backup run as Prometheus metrics.
// A run is a short-lived process, so metrics are published once at the end,
// either pushed to a Pushgateway or written to a node-exporter textfile.
package metrics

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"db-backup/internal/logging"
)

// DefaultJobName is the Pushgateway job label
const DefaultJobName = "db_backup"

// Config selects where run metrics are published. Both targets are optional.
type Config struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" yaml:"pushgateway_url"`
	JobName        string `mapstructure:"job_name" yaml:"job_name"`
	TextfilePath   string `mapstructure:"textfile_path" yaml:"textfile_path"`
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.JobName == "" {
		c.JobName = DefaultJobName
	}
}

// Validate checks the publishing targets
func (c *Config) Validate() error {
	if c.PushgatewayURL != "" {
		u, err := url.Parse(c.PushgatewayURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("pushgateway_url %q must be an http(s) URL", c.PushgatewayURL)
		}
	}
	if c.TextfilePath != "" && !strings.HasSuffix(c.TextfilePath, ".prom") {
		return fmt.Errorf("textfile_path %q must end in .prom", c.TextfilePath)
	}
	return nil
}

// Enabled reports whether any publishing target is configured
func (c Config) Enabled() bool {
	return c.PushgatewayURL != "" || c.TextfilePath != ""
}

// Recorder holds the metrics of one run. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	cfg      Config
	table    string
	registry *prometheus.Registry
	textfile *prometheus.Registry
	logger   *logging.Logger

	runTimestamp     prometheus.Gauge
	successTimestamp prometheus.Gauge
	success          prometheus.Gauge
	duration         prometheus.Gauge
	stageDuration    *prometheus.GaugeVec
	stageFailed      *prometheus.GaugeVec
	rows             prometheus.Gauge
	artifactBytes    *prometheus.GaugeVec
}

// NewRecorder creates a recorder on a dedicated registry. The Pushgateway
// carries the table in its grouping key; the textfile registry adds it as a
// table label.
func NewRecorder(cfg Config, table string, logger *logging.Logger) *Recorder {
	cfg.SetDefaults()
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	r := &Recorder{
		cfg:      cfg,
		table:    table,
		registry: prometheus.NewRegistry(),
		textfile: prometheus.NewRegistry(),
		logger:   logger,
		runTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_backup_last_run_timestamp_seconds",
			Help: "Unix time the last backup run started.",
		}),
		successTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_backup_last_success_timestamp_seconds",
			Help: "Unix time the last successful backup run finished.",
		}),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_backup_last_run_success",
			Help: "1 if the last backup run uploaded its artifact, 0 otherwise.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_backup_last_run_duration_seconds",
			Help: "Wall time of the last backup run.",
		}),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "db_backup_stage_duration_seconds",
			Help: "Wall time of each pipeline stage in the last run.",
		}, []string{"stage"}),
		stageFailed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "db_backup_stage_failed",
			Help: "1 for the stage that failed the last run.",
		}, []string{"stage"}),
		rows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_backup_rows_exported",
			Help: "Rows written to the export file in the last run.",
		}),
		artifactBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "db_backup_artifact_bytes",
			Help: "Size of the artifacts produced by the last run.",
		}, []string{"artifact"}),
	}

	collectors := []prometheus.Collector{
		r.runTimestamp,
		r.successTimestamp,
		r.success,
		r.duration,
		r.stageDuration,
		r.stageFailed,
		r.rows,
		r.artifactBytes,
	}
	r.registry.MustRegister(collectors...)
	prometheus.WrapRegistererWith(prometheus.Labels{"table": table}, r.textfile).MustRegister(collectors...)
	return r
}

// Registry exposes the unlabelled registry that is pushed
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RunStarted records the run timestamp
func (r *Recorder) RunStarted(at time.Time) {
	if r == nil {
		return
	}
	r.runTimestamp.Set(float64(at.Unix()))
}

// ObserveStage records how long a stage took
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Set(d.Seconds())
}

// SetRows records the exported row count
func (r *Recorder) SetRows(n int64) {
	if r == nil {
		return
	}
	r.rows.Set(float64(n))
}

// SetArtifactBytes records the size of an artifact, e.g. "csv" or "encrypted"
func (r *Recorder) SetArtifactBytes(artifact string, n int64) {
	if r == nil {
		return
	}
	r.artifactBytes.WithLabelValues(artifact).Set(float64(n))
}

// RunFinished records the outcome. failedStage is empty on success.
func (r *Recorder) RunFinished(success bool, failedStage string, d time.Duration, at time.Time) {
	if r == nil {
		return
	}
	r.duration.Set(d.Seconds())
	if success {
		r.success.Set(1)
		r.successTimestamp.Set(float64(at.Unix()))
		return
	}
	r.success.Set(0)
	if failedStage != "" {
		r.stageFailed.WithLabelValues(failedStage).Set(1)
	}
}

// Publish pushes to the Pushgateway and writes the textfile, whichever are
// configured. Both are attempted; their errors are combined.
func (r *Recorder) Publish(ctx context.Context) error {
	if r == nil || !r.cfg.Enabled() {
		return nil
	}

	var result *multierror.Error

	if r.cfg.PushgatewayURL != "" {
		err := push.New(r.cfg.PushgatewayURL, r.cfg.JobName).
			Gatherer(r.registry).
			Grouping("table", r.table).
			PushContext(ctx)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("push to %s: %w", r.cfg.PushgatewayURL, err))
		} else {
			r.logger.WithField("pushgateway", r.cfg.PushgatewayURL).Debug("Metrics pushed")
		}
	}

	if r.cfg.TextfilePath != "" {
		if err := prometheus.WriteToTextfile(r.cfg.TextfilePath, r.textfile); err != nil {
			result = multierror.Append(result, fmt.Errorf("write %s: %w", r.cfg.TextfilePath, err))
		} else {
			r.logger.WithField("textfile", r.cfg.TextfilePath).Debug("Metrics written")
		}
	}

	return result.ErrorOrNil()
}
