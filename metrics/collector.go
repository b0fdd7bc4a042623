// Package metrics collects export pipeline metrics.
//
// The Collector keeps in-process counters for the CLI run summary and
// mirrors them into Prometheus vectors served by the worker's /metrics
// endpoint. It is a leaf package: outcome and notification kinds are passed
// as plain strings. All recording methods are nil-receiver safe so callers
// can run without metrics.
package metrics

import (
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every exported metric name.
const Namespace = "srx_export"

// Snapshot is an immutable point-in-time view of the counters.
type Snapshot struct {
	// Runs
	RunsStarted   int64 `json:"runs_started"`
	RunsSucceeded int64 `json:"runs_succeeded"`
	RunsFailed    int64 `json:"runs_failed"`
	// FailuresByKind counts failed runs by error kind name.
	FailuresByKind map[string]int64 `json:"failures_by_kind"`

	// AcquisitionFailures counts runs whose stop document reported an
	// unsuccessful exit.
	AcquisitionFailures int64 `json:"acquisition_failures"`

	// Strategy outcomes keyed by "strategy/status".
	Outcomes     map[string]int64 `json:"outcomes"`
	FilesWritten int64            `json:"files_written"`

	// Notifications
	NotificationsSent   int64 `json:"notifications_sent"`
	NotificationsFailed int64 `json:"notifications_failed"`

	// Archive
	ArchiveWriteSuccess int64 `json:"archive_write_success"`
	ArchiveWriteFailure int64 `json:"archive_write_failure"`
}

// Collector records pipeline metrics.
type Collector struct {
	mu sync.Mutex

	runsStarted         int64
	runsSucceeded       int64
	runsFailed          int64
	failuresByKind      map[string]int64
	acquisitionFailures int64
	outcomes            map[string]int64
	filesWritten        int64
	notificationsSent   int64
	notificationsFailed int64
	archiveWriteSuccess int64
	archiveWriteFailure int64

	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	outcomeTotal  *prometheus.CounterVec
	filesTotal    *prometheus.CounterVec
	notifications *prometheus.CounterVec
	acquisition   prometheus.Counter
	archiveWrites *prometheus.CounterVec
	inFlight      prometheus.Gauge
}

// NewCollector creates a Collector registering its vectors with registry.
// If registry is nil, a fresh registry is used.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		failuresByKind: make(map[string]int64),
		outcomes:       make(map[string]int64),
		registry:       registry,

		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "End-of-run workflows by result.",
		}, []string{"result", "kind"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one end-of-run workflow.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}),
		outcomeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "strategy_outcomes_total",
			Help:      "Export strategy invocations by strategy and status.",
		}, []string{"strategy", "status"}),
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "files_written_total",
			Help:      "Output files written by strategy.",
		}, []string{"strategy"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "notifications_total",
			Help:      "Notifications by kind and delivery result.",
		}, []string{"kind", "result"}),
		acquisition: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "acquisition_failures_total",
			Help:      "Runs whose stop document reported an unsuccessful exit.",
		}),
		archiveWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "archive_writes_total",
			Help:      "Archive write operations by result.",
		}, []string{"result"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "runs_in_flight",
			Help:      "Workflows currently executing.",
		}),
	}

	registry.MustRegister(
		c.runs, c.runDuration, c.outcomeTotal, c.filesTotal,
		c.notifications, c.acquisition, c.archiveWrites, c.inFlight,
	)
	return c
}

// --- Runs ---

// IncRunStarted records a workflow start.
func (c *Collector) IncRunStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsStarted++
	c.mu.Unlock()
	c.inFlight.Inc()
}

// RunFinished records a workflow result. kind is the error kind name of a
// failed run and is ignored on success.
func (c *Collector) RunFinished(err error, kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if err == nil {
		c.runsSucceeded++
		kind = ""
	} else {
		c.runsFailed++
		c.failuresByKind[kind]++
	}
	c.mu.Unlock()

	result := "success"
	if err != nil {
		result = "failure"
	}
	c.runs.WithLabelValues(result, kind).Inc()
	c.runDuration.Observe(d.Seconds())
	c.inFlight.Dec()
}

// IncAcquisitionFailed records a run whose acquisition did not exit cleanly.
func (c *Collector) IncAcquisitionFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.acquisitionFailures++
	c.mu.Unlock()
	c.acquisition.Inc()
}

// --- Strategies ---

// RecordOutcome records one strategy invocation and the files it wrote.
func (c *Collector) RecordOutcome(strategy, status string, files int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.outcomes[strategy+"/"+status]++
	c.filesWritten += int64(files)
	c.mu.Unlock()

	c.outcomeTotal.WithLabelValues(strategy, status).Inc()
	if files > 0 {
		c.filesTotal.WithLabelValues(strategy).Add(float64(files))
	}
}

// --- Notifications ---

// RecordNotification records one notification delivery attempt.
func (c *Collector) RecordNotification(kind string, err error) {
	if c == nil {
		return
	}
	result := "delivered"
	c.mu.Lock()
	if err != nil {
		c.notificationsFailed++
		result = "failed"
	} else {
		c.notificationsSent++
	}
	c.mu.Unlock()
	c.notifications.WithLabelValues(kind, result).Inc()
}

// --- Archive ---

// IncArchiveWriteSuccess records a successful archive write.
func (c *Collector) IncArchiveWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.archiveWriteSuccess++
	c.mu.Unlock()
	c.archiveWrites.WithLabelValues("success").Inc()
}

// IncArchiveWriteFailure records a failed archive write.
func (c *Collector) IncArchiveWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.archiveWriteFailure++
	c.mu.Unlock()
	c.archiveWrites.WithLabelValues("failure").Inc()
}

// --- Exposition ---

// Registry returns the Prometheus registry holding the collector's vectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Snapshot returns an immutable point-in-time view of the counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		RunsStarted:         c.runsStarted,
		RunsSucceeded:       c.runsSucceeded,
		RunsFailed:          c.runsFailed,
		FailuresByKind:      maps.Clone(c.failuresByKind),
		AcquisitionFailures: c.acquisitionFailures,
		Outcomes:            maps.Clone(c.outcomes),
		FilesWritten:        c.filesWritten,
		NotificationsSent:   c.notificationsSent,
		NotificationsFailed: c.notificationsFailed,
		ArchiveWriteSuccess: c.archiveWriteSuccess,
		ArchiveWriteFailure: c.archiveWriteFailure,
	}
}
