package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vodforge"

// Job metrics
var (
	JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "submitted_total",
		Help:      "Total number of transcode jobs submitted",
	})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "finished_total",
		Help:      "Total number of jobs that reached a terminal state",
	}, []string{"state"})

	JobRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "retries_total",
		Help:      "Total number of failed attempts scheduled for retry",
	})

	JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "active",
		Help:      "Number of jobs currently held by a worker slot in this process",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "jobs",
		Help:      "Jobs in the queue by state",
	}, []string{"state"})
)

// Encode metrics
var (
	EncodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "encode",
		Name:      "duration_seconds",
		Help:      "Wall time of a single rendition encode",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
	}, []string{"rendition"})

	EncodesRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encode",
		Name:      "running",
		Help:      "Encoder subprocesses currently running",
	})

	EncodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encode",
		Name:      "failures_total",
		Help:      "Engine invocations that exited with an error",
	}, []string{"stage"})
)

// Upload metrics
var (
	UploadedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upload",
		Name:      "bytes_total",
		Help:      "Bytes uploaded to object storage by artifact kind",
	}, []string{"kind"})

	UploadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upload",
		Name:      "failures_total",
		Help:      "Uploads that failed after in-stage retries",
	}, []string{"kind"})
)

func SetQueueDepth(waiting, active, delayed, completed, failed int) {
	QueueDepth.WithLabelValues("waiting").Set(float64(waiting))
	QueueDepth.WithLabelValues("active").Set(float64(active))
	QueueDepth.WithLabelValues("delayed").Set(float64(delayed))
	QueueDepth.WithLabelValues("completed").Set(float64(completed))
	QueueDepth.WithLabelValues("failed").Set(float64(failed))
}
