package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "offlinesync"

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

	syncPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_passes_total",
			Help:      "Replay passes by trigger.",
		},
		[]string{"trigger"},
	)

	recordsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_records_total",
			Help:      "Replayed queue records by module and outcome.",
		},
		[]string{"module", "outcome"},
	)

	deadLetters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_dead_letters_total",
			Help:      "Records moved to the dead-letter store by module.",
		},
		[]string{"module"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_queue_depth",
			Help:      "Pending records after the last queue change.",
		},
	)

	online = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connectivity_online",
			Help:      "1 when the remote system is reachable.",
		},
	)

	passDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_pass_duration_seconds",
			Help:      "Duration of replay passes.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
)

// Outcome labels for RecordProcessed.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeNoHandler = "no_handler"
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			syncPasses,
			recordsProcessed,
			deadLetters,
			queueDepth,
			online,
			passDuration,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObservePass records a finished replay pass.
func ObservePass(trigger string, d time.Duration) {
	syncPasses.WithLabelValues(trigger).Inc()
	passDuration.Observe(d.Seconds())
}

func RecordProcessed(module, outcome string) {
	recordsProcessed.WithLabelValues(module, outcome).Inc()
}

func IncDeadLetter(module string) {
	deadLetters.WithLabelValues(module).Inc()
}

func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

func SetOnline(up bool) {
	if up {
		online.Set(1)
		return
	}
	online.Set(0)
}
