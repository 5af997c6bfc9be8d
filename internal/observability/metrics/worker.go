package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	jobsTotal       *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobsInFlight    prometheus.Gauge
	deadLetters     *prometheus.CounterVec
	queueLag        *prometheus.HistogramVec
	emptyLeaseTotal *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	return NewWorkerMetricsWith(prometheus.NewRegistry(), service)
}

// NewWorkerMetricsWith registers worker collectors on an existing registry, e.g. the API's when workers run embedded.
func NewWorkerMetricsWith(registry *prometheus.Registry, service string) *WorkerMetrics {
	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Processed jobs by kind and outcome.",
		},
		[]string{"service", "kind", "outcome"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Job processing duration in seconds by kind and outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "kind", "outcome"},
	)
	jobsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_in_flight",
			Help:      "Number of jobs currently being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	deadLetters := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "dead_letters_total",
			Help:      "Jobs moved to the dead-letter list.",
		},
		[]string{"service", "kind"},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between a job becoming available and its lease.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "kind"},
	)
	emptyLeaseTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "empty_leases_total",
			Help:      "Lease calls that timed out without work.",
		},
		[]string{"service"},
	)

	registry.MustRegister(jobsTotal, jobDuration, jobsInFlight, deadLetters, queueLag, emptyLeaseTotal)

	return &WorkerMetrics{
		registry:        registry,
		jobsTotal:       jobsTotal,
		jobDuration:     jobDuration,
		jobsInFlight:    jobsInFlight,
		deadLetters:     deadLetters,
		queueLag:        queueLag,
		emptyLeaseTotal: emptyLeaseTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartJob() {
	m.jobsInFlight.Inc()
}

// FinishJob records one processed job; outcome is acked, requeued, dead-lettered or lease-lost.
func (m *WorkerMetrics) FinishJob(service, kind, outcome string, duration time.Duration) {
	m.jobsInFlight.Dec()
	m.jobsTotal.WithLabelValues(service, kind, outcome).Inc()
	m.jobDuration.WithLabelValues(service, kind, outcome).Observe(duration.Seconds())
	if outcome == "dead-lettered" {
		m.deadLetters.WithLabelValues(service, kind).Inc()
	}
}

func (m *WorkerMetrics) ObserveQueueLag(service, kind string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service, kind).Observe(lag.Seconds())
}

func (m *WorkerMetrics) EmptyLease(service string) {
	m.emptyLeaseTotal.WithLabelValues(service).Inc()
}
