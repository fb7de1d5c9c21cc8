// Package metrics exposes the daemon's Prometheus instrumentation. Each
// Collector owns its own registry so daemons, workers, and tests never
// collide on global registration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"desceval/internal/quiz"
)

// Job statuses reported to the jobs counter.
const (
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Submission outcomes reported to the submissions counter.
const (
	SubmissionEvaluated = "evaluated"
	SubmissionFailed    = "failed"
	SubmissionSkipped   = "skipped"
)

// Item outcomes reported to the items counter.
const (
	ItemScored   = "scored"
	ItemRejected = "rejected"
	ItemErrored  = "errored"
)

// Collector bundles the evaluation metrics behind one registry.
type Collector struct {
	registry *prometheus.Registry

	jobs        *prometheus.CounterVec
	submissions *prometheus.CounterVec
	items       *prometheus.CounterVec

	submissionSeconds prometheus.Histogram

	workersAlive prometheus.Gauge
	queueDepth   prometheus.Gauge
}

// NewCollector builds a collector with a fresh registry that also
// carries the standard Go and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "desceval_jobs_total",
			Help: "Evaluation jobs finished, by final status.",
		}, []string{"status"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "desceval_submissions_evaluated_total",
			Help: "Submissions settled during evaluation, by outcome.",
		}, []string{"outcome"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "desceval_items_scored_total",
			Help: "Question items settled during evaluation, by type and outcome.",
		}, []string{"type", "outcome"}),
		submissionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "desceval_submission_seconds",
			Help:    "Wall time to evaluate one submission.",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 300, 600},
		}),
		workersAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "desceval_workers_alive",
			Help: "Workers currently alive in the pool.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "desceval_queue_depth",
			Help: "Jobs waiting on the evaluation queue.",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.jobs,
		c.submissions,
		c.items,
		c.submissionSeconds,
		c.workersAlive,
		c.queueDepth,
	)
	return c
}

// JobFinished records one job reaching a terminal status.
func (c *Collector) JobFinished(status string) {
	c.jobs.WithLabelValues(status).Inc()
}

// SubmissionSettled records one submission outcome and, for evaluated
// submissions, the time it took.
func (c *Collector) SubmissionSettled(outcome string, elapsed time.Duration) {
	c.submissions.WithLabelValues(outcome).Inc()
	if outcome == SubmissionEvaluated {
		c.submissionSeconds.Observe(elapsed.Seconds())
	}
}

// ItemSettled records n items of one type reaching an outcome.
func (c *Collector) ItemSettled(itemType quiz.ItemType, outcome string, n int) {
	if n <= 0 {
		return
	}
	c.items.WithLabelValues(string(itemType), outcome).Add(float64(n))
}

// SetWorkersAlive reports current pool liveness.
func (c *Collector) SetWorkersAlive(n int) {
	c.workersAlive.Set(float64(n))
}

// SetQueueDepth reports current queue backlog.
func (c *Collector) SetQueueDepth(n int64) {
	c.queueDepth.Set(float64(n))
}

// Handler serves this collector's registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for callers that mount extra
// collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
