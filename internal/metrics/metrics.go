package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "channelsync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Connector sync runs by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	syncRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_records_total",
			Help:      "Records processed by connector and category.",
		},
		[]string{"connector", "category"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_job_duration_seconds",
			Help:      "Connector job duration.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"connector", "mode"},
	)

	queueMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_messages_total",
			Help:      "Consumed queue messages by topic and outcome.",
		},
		[]string{"topic", "status"},
	)

	jobConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unique_job_conflicts_total",
			Help:      "Jobs rejected because the same job was already running.",
		},
		[]string{"job"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, syncRuns, syncRecords, jobDuration, queueMessages, jobConflicts)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObserveSyncRun records one connector run and its per-category counts.
func ObserveSyncRun(connector, mode string, success bool, duration time.Duration, counts map[string]int) {
	outcome := "failed"
	if success {
		outcome = "success"
	}
	syncRuns.WithLabelValues(mode, outcome).Inc()
	jobDuration.WithLabelValues(connector, mode).Observe(duration.Seconds())
	for category, n := range counts {
		if n > 0 {
			syncRecords.WithLabelValues(connector, category).Add(float64(n))
		}
	}
}

func IncQueueMessage(topic, status string) {
	queueMessages.WithLabelValues(topic, status).Inc()
}

// IncJobConflict counts a rejected job by the job name prefix, so integration
// ids do not become label values.
func IncJobConflict(jobName string) {
	kind := jobName
	if i := strings.Index(jobName, ":"); i >= 0 {
		kind = jobName[:i]
	}
	jobConflicts.WithLabelValues(kind).Inc()
}
