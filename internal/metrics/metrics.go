package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stylizer"

// Recorder exports upload, transfer job, and HTTP metrics to Prometheus. A nil
// Recorder is valid and records nothing.
type Recorder struct {
	gatherer prometheus.Gatherer

	uploadDuration *prometheus.HistogramVec
	uploadFiles    prometheus.Counter
	uploadBytes    prometheus.Counter
	skippedParts   *prometheus.CounterVec

	jobsStarted   *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobsRunning   prometheus.Gauge
	startRejected *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers the stylizer collectors on reg. A nil registry creates a private one.
func New(reg *prometheus.Registry) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &Recorder{
		gatherer: reg,
		uploadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "duration_seconds",
			Help:      "Time spent receiving a multipart upload request.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
		}, []string{"outcome"}),
		uploadFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "files_total",
			Help:      "Media files persisted to the staging area.",
		}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Bytes persisted to the staging area.",
		}),
		skippedParts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "skipped_parts_total",
			Help:      "Multipart parts dropped by the field or MIME filter.",
		}, []string{"reason"}),
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "jobs_started_total",
			Help:      "Transfer jobs whose process was spawned.",
		}, []string{"kind"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "jobs_finished_total",
			Help:      "Transfer jobs that reached a terminal state.",
		}, []string{"kind", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "job_duration_seconds",
			Help:      "Wall-clock runtime of transfer jobs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"kind", "status"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "jobs_running",
			Help:      "Transfer jobs currently running.",
		}),
		startRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "start_rejected_total",
			Help:      "Start requests refused before a process was spawned.",
		}, []string{"reason"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	var err error
	register := func(c prometheus.Collector) prometheus.Collector {
		if err != nil {
			return c
		}
		var existing prometheus.Collector
		existing, err = adopt(reg, c)
		return existing
	}
	r.uploadDuration = register(r.uploadDuration).(*prometheus.HistogramVec)
	r.uploadFiles = register(r.uploadFiles).(prometheus.Counter)
	r.uploadBytes = register(r.uploadBytes).(prometheus.Counter)
	r.skippedParts = register(r.skippedParts).(*prometheus.CounterVec)
	r.jobsStarted = register(r.jobsStarted).(*prometheus.CounterVec)
	r.jobsFinished = register(r.jobsFinished).(*prometheus.CounterVec)
	r.jobDuration = register(r.jobDuration).(*prometheus.HistogramVec)
	r.jobsRunning = register(r.jobsRunning).(prometheus.Gauge)
	r.startRejected = register(r.startRejected).(*prometheus.CounterVec)
	r.httpRequests = register(r.httpRequests).(*prometheus.CounterVec)
	r.httpDuration = register(r.httpDuration).(*prometheus.HistogramVec)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// adopt registers c, returning the collector already registered under the same
// descriptor when another Recorder got there first.
func adopt(reg prometheus.Registerer, c prometheus.Collector) (prometheus.Collector, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector, nil
		}
		return c, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// RecordUpload tracks one multipart request.
func (r *Recorder) RecordUpload(duration time.Duration, files int, bytes int64, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.uploadDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	r.uploadFiles.Add(float64(files))
	r.uploadBytes.Add(float64(bytes))
}

// RecordSkippedPart counts a part dropped by the upload filter.
func (r *Recorder) RecordSkippedPart(reason string) {
	if r == nil {
		return
	}
	r.skippedParts.WithLabelValues(reason).Inc()
}

// JobStarted counts a spawned transfer process.
func (r *Recorder) JobStarted(kind string) {
	if r == nil {
		return
	}
	r.jobsStarted.WithLabelValues(kind).Inc()
	r.jobsRunning.Inc()
}

// JobFinished records the terminal state of a job.
func (r *Recorder) JobFinished(kind, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.jobsFinished.WithLabelValues(kind, status).Inc()
	r.jobDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
	r.jobsRunning.Dec()
}

// StartRejected counts start requests refused before spawn.
func (r *Recorder) StartRejected(reason string) {
	if r == nil {
		return
	}
	r.startRejected.WithLabelValues(reason).Inc()
}

// ObserveHTTP records a completed HTTP request.
func (r *Recorder) ObserveHTTP(route string, code int, duration time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	r.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}
