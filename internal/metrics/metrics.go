package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "formsync",
			Name:      "jobs_processed_total",
			Help:      "Jobs by queue and terminal status.",
		},
		[]string{"queue", "status"},
	)

	jobRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "formsync",
			Name:      "job_retries_total",
			Help:      "Retries scheduled by queue.",
		},
		[]string{"queue"},
	)

	deadLetters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "formsync",
			Name:      "dead_letters_total",
			Help:      "Jobs that exhausted their retry budget.",
		},
		[]string{"queue"},
	)

	providerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "formsync",
			Name:      "provider_calls_total",
			Help:      "Google API calls by service and outcome.",
		},
		[]string{"service", "outcome"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "formsync",
			Name:      "queue_depth",
			Help:      "Jobs waiting per queue.",
		},
		[]string{"queue"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(jobsProcessed, jobRetries, deadLetters, providerCalls, queueDepth)
	})
}

// IncProcessed counts a job reaching a terminal status.
func IncProcessed(queue, status string) {
	jobsProcessed.WithLabelValues(queue, status).Inc()
}

// IncRetry counts a scheduled retry.
func IncRetry(queue string) {
	jobRetries.WithLabelValues(queue).Inc()
}

// IncDeadLetter counts a dead-lettered job.
func IncDeadLetter(queue string) {
	deadLetters.WithLabelValues(queue).Inc()
}

// IncProviderCall counts one Google API call.
func IncProviderCall(service, outcome string) {
	providerCalls.WithLabelValues(service, outcome).Inc()
}

// SetQueueDepth records the number of waiting jobs in a queue.
func SetQueueDepth(queue string, depth int) {
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}
