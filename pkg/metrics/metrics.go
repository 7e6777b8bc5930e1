package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker / replica metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qserv_workers_total",
			Help: "Total number of configured workers by enabled/read-only state",
		},
		[]string{"enabled", "read_only"},
	)

	ReplicasGood = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qserv_replicas_good",
			Help: "Number of good (COMPLETE, on an enabled worker) replicas by database",
		},
		[]string{"database"},
	)

	ReplicasByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qserv_replicas_by_status",
			Help: "Number of replicas by status",
		},
		[]string{"status"},
	)

	// Job metrics
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qserv_jobs_total",
			Help: "Total number of Jobs that finished, by type and extended state",
		},
		[]string{"type", "extended_state"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qserv_job_duration_seconds",
			Help:    "Wall-clock duration of a Job from CREATED to FINISHED",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// Request metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qserv_requests_total",
			Help: "Total number of Requests that finished, by type, worker and extended state",
		},
		[]string{"type", "worker", "extended_state"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qserv_request_duration_seconds",
			Help:    "Wall-clock duration of a Request from start to finish",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// Messenger metrics
	MessengerQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qserv_messenger_queue_depth",
			Help: "Current number of queued (not yet sent) items per worker channel",
		},
		[]string{"worker"},
	)

	MessengerSendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qserv_messenger_send_failures_total",
			Help: "Total number of transport failures observed by a worker channel",
		},
		[]string{"worker"},
	)

	// Ingest metrics
	ContributionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qserv_ingest_contributions_total",
			Help: "Total number of contributions that reached a terminal state, by status",
		},
		[]string{"status"},
	)

	ContributionBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qserv_ingest_contribution_bytes_total",
			Help: "Total number of bytes read across all finished contributions",
		},
	)

	ContributionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qserv_ingest_contribution_duration_seconds",
			Help:    "End-to-end duration of a contribution pipeline run",
			Buckets: prometheus.DefBuckets,
		},
	)

	// HTTP front-end metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qserv_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qserv_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(ReplicasGood)
	prometheus.MustRegister(ReplicasByStatus)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(MessengerQueueDepth)
	prometheus.MustRegister(MessengerSendFailuresTotal)
	prometheus.MustRegister(ContributionsTotal)
	prometheus.MustRegister(ContributionBytesTotal)
	prometheus.MustRegister(ContributionDuration)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
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

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
