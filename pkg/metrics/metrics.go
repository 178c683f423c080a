package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChunksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scanord_chunks_total",
			Help: "Current number of chunks by status",
		},
		[]string{"status"},
	)

	ChunksScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scanord_chunks_scheduled_total",
			Help: "Total number of chunks promoted to RUNNING",
		},
	)

	ChunksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanord_chunks_completed_total",
			Help: "Total number of chunks that reached a terminal state, by status",
		},
		[]string{"status"},
	)

	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scanord_scheduling_latency_seconds",
			Help:    "Time from chunk creation to promotion to RUNNING",
			Buckets: prometheus.DefBuckets,
		},
	)

	HostScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanord_host_scans_total",
			Help: "Total number of completed host scans by outcome",
		},
		[]string{"outcome"},
	)

	HostScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scanord_host_scan_duration_seconds",
			Help:    "Duration of one host scan invocation",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	KillEscalationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scanord_kill_escalations_total",
			Help: "Total number of host scans that required SIGKILL after SIGTERM",
		},
	)

	CoverageAddressesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scanord_coverage_addresses",
			Help: "Current address count by coverage bucket (pending, scanned_ok, failed, quarantined)",
		},
		[]string{"bucket"},
	)

	EventSubscribersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanord_event_subscribers",
			Help: "Current number of active event broker subscribers",
		},
	)
)

func init() {
	prometheus.MustRegister(ChunksTotal)
	prometheus.MustRegister(ChunksScheduledTotal)
	prometheus.MustRegister(ChunksCompletedTotal)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(HostScansTotal)
	prometheus.MustRegister(HostScanDuration)
	prometheus.MustRegister(KillEscalationsTotal)
	prometheus.MustRegister(CoverageAddressesTotal)
	prometheus.MustRegister(EventSubscribersTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
