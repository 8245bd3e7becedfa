package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "snapshot_etl"

// Metrics holds the Prometheus instruments for the snapshot batch run.
// The job is one-shot, so metrics are pushed to a Pushgateway at the end
// of the run rather than scraped.
type Metrics struct {
	RecordsFetched      prometheus.Counter
	FetchErrors         prometheus.Counter
	SnapshotsWritten    prometheus.Counter
	PartialWeeksDropped prometheus.Counter
	LastRunCompleted    prometheus.Gauge

	FetchDuration *prometheus.HistogramVec // label: source
	RunDuration   prometheus.Histogram
}

// NewMetrics creates and registers all run metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RecordsFetched,
		m.FetchErrors,
		m.SnapshotsWritten,
		m.PartialWeeksDropped,
		m.LastRunCompleted,
		m.FetchDuration,
		m.RunDuration,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid "already
// registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RecordsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_fetched_total",
			Help:      "Total observation records fetched from upstream sources.",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Total upstream fetch failures.",
		}),
		SnapshotsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_written_total",
			Help:      "Total snapshot files written.",
		}),
		PartialWeeksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partial_weeks_dropped_total",
			Help:      "Epi-weeks dropped for having fewer than seven source days.",
		}),
		LastRunCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_completed_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Upstream fetch duration by source.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete batch run.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
	}
}

// PushMetrics sends everything in the default registry to a Pushgateway.
// Called once after a successful run; a push failure is reported but must
// not fail the run, snapshots are already on disk.
func PushMetrics(gatewayURL, job string) error {
	if err := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer).Push(); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
