// Package metrics exposes ledger metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledger"

// Collector records engine, processor and janitor metrics on its own
// registry.
type Collector struct {
	registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	operationResults  *prometheus.CounterVec
	cacheRequests     *prometheus.CounterVec
	idempotentReplays *prometheus.CounterVec
	errors            *prometheus.CounterVec
	transactions      *prometheus.CounterVec
	transactionAmount *prometheus.CounterVec

	jobsProcessed *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	queueDepth    *prometheus.GaugeVec
	janitorRuns   *prometheus.CounterVec
	jobsRepushed  prometheus.Counter
	jobsPruned    *prometheus.CounterVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Duration of engine operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Engine operations partitioned by result.",
			},
			[]string{"operation", "result"},
		),
		cacheRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "requests_total",
				Help:      "Cache lookups partitioned by cache and outcome.",
			},
			[]string{"cache", "outcome"},
		),
		idempotentReplays: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "idempotent_replays_total",
				Help:      "Requests answered from a prior attempt with the same idempotency key.",
			},
			[]string{"operation"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "errors_total",
				Help:      "Engine errors partitioned by kind.",
			},
			[]string{"operation", "kind"},
		),
		transactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "transactions_committed_total",
				Help:      "Committed money movements partitioned by type.",
			},
			[]string{"type"},
		),
		transactionAmount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "transaction_amount_total",
				Help:      "Sum of committed amounts partitioned by type.",
			},
			[]string{"type"},
		),
		jobsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "jobs_total",
				Help:      "Processed jobs partitioned by type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "job_duration_seconds",
				Help:      "Time spent handling one job.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Jobs currently in each queue state.",
			},
			[]string{"state"},
		),
		janitorRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "janitor",
				Name:      "runs_total",
				Help:      "Janitor sweeps partitioned by result.",
			},
			[]string{"result"},
		),
		jobsRepushed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "janitor",
				Name:      "jobs_repushed_total",
				Help:      "Jobs re-enqueued after their queue entry was lost.",
			},
		),
		jobsPruned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "janitor",
				Name:      "jobs_pruned_total",
				Help:      "Finished job records deleted, by status.",
			},
			[]string{"status"},
		),
	}
}

// Registry returns the registry the collector's metrics live on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordOperationDuration(operation string, duration time.Duration) {
	c.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (c *Collector) RecordOperationResult(operation, result string) {
	c.operationResults.WithLabelValues(operation, result).Inc()
}

func (c *Collector) RecordCacheHit(cache string) {
	c.cacheRequests.WithLabelValues(cache, "hit").Inc()
}

func (c *Collector) RecordCacheMiss(cache string) {
	c.cacheRequests.WithLabelValues(cache, "miss").Inc()
}

func (c *Collector) RecordIdempotentReplay(operation string) {
	c.idempotentReplays.WithLabelValues(operation).Inc()
}

func (c *Collector) RecordError(operation, errType string) {
	c.errors.WithLabelValues(operation, errType).Inc()
}

func (c *Collector) RecordTransaction(txType string, amount float64) {
	c.transactions.WithLabelValues(txType).Inc()
	c.transactionAmount.WithLabelValues(txType).Add(amount)
}

func (c *Collector) RecordJob(jobType, outcome string, duration time.Duration) {
	c.jobsProcessed.WithLabelValues(jobType, outcome).Inc()
	c.jobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

func (c *Collector) SetQueueDepth(ready, processing, delayed int64) {
	c.queueDepth.WithLabelValues("ready").Set(float64(ready))
	c.queueDepth.WithLabelValues("processing").Set(float64(processing))
	c.queueDepth.WithLabelValues("delayed").Set(float64(delayed))
}

func (c *Collector) RecordJanitorRun(result string, repushed int, pruned map[string]int64) {
	c.janitorRuns.WithLabelValues(result).Inc()
	c.jobsRepushed.Add(float64(repushed))
	for status, n := range pruned {
		c.jobsPruned.WithLabelValues(status).Add(float64(n))
	}
}
