// Package metrics exposes Prometheus instrumentation for submissions, tasks and publisher calls
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_jobs_submitted_total",
			Help: "Total number of jobs accepted into a class queue",
		},
		[]string{"job_class"},
	)

	admissionRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_admission_rejected_total",
			Help: "Total number of submissions rejected because the class queue was full",
		},
		[]string{"job_class"},
	)

	tasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_tasks_finished_total",
			Help: "Total number of tasks that reached a terminal status",
		},
		[]string{"job_class", "status"},
	)

	itemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_items_total",
			Help: "Total number of content keys processed, by outcome",
		},
		[]string{"job_class", "outcome"},
	)

	publisherDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "publish_publisher_duration_seconds",
			Help:    "Duration of publisher adapter invocations",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
		},
		[]string{"job_class", "outcome"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "publish_queue_depth",
			Help: "Current number of jobs waiting in a class queue",
		},
		[]string{"job_class"},
	)
)

// RecordSubmitted counts an accepted submission
func RecordSubmitted(jobClass string) {
	jobsSubmitted.WithLabelValues(jobClass).Inc()
}

// RecordRejected counts a submission refused by admission control
func RecordRejected(jobClass string) {
	admissionRejected.WithLabelValues(jobClass).Inc()
}

// RecordTaskFinished counts a terminal task
func RecordTaskFinished(jobClass, status string) {
	tasksFinished.WithLabelValues(jobClass, status).Inc()
}

// RecordItem counts one processed content key
func RecordItem(jobClass, outcome string) {
	itemsProcessed.WithLabelValues(jobClass, outcome).Inc()
}

// ObservePublisher records the duration of one publisher invocation
func ObservePublisher(jobClass, outcome string, d time.Duration) {
	publisherDuration.WithLabelValues(jobClass, outcome).Observe(d.Seconds())
}

// SetQueueDepth updates the waiting-jobs gauge of a class
func SetQueueDepth(jobClass string, depth int) {
	queueDepth.WithLabelValues(jobClass).Set(float64(depth))
}
