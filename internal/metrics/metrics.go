// Package metrics exposes dispatcher runtime state as Prometheus
// metrics: how many blocks have moved through dispatch/completion/
// retry/exclusion, how long a block takes end to end, and the current
// worker pool health and adaptive timeout estimates.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is the process-wide Prometheus metrics registry for one
// dispatch run. Create exactly one; a second NewCollector call will
// panic on duplicate registration.
type Collector struct {
	blocksDispatched prometheus.Counter
	blocksCompleted  prometheus.Counter
	blocksRetried    prometheus.Counter
	blocksDead       prometheus.Counter

	blockLatency prometheus.Histogram

	activeWorkers   prometheus.Gauge
	excludedWorkers prometheus.Gauge

	avgUploadTimeout   prometheus.Gauge
	avgDownloadTimeout prometheus.Gauge
	avgPollTimeout     prometheus.Gauge
}

// NewCollector builds and registers a Collector against the default
// Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		blocksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kssh_blocks_dispatched_total",
			Help: "Total number of blocks sent to a worker via START",
		}),
		blocksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kssh_blocks_completed_total",
			Help: "Total number of blocks fetched back successfully",
		}),
		blocksRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kssh_blocks_retried_total",
			Help: "Total number of blocks returned to the source for redelivery",
		}),
		blocksDead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kssh_blocks_dead_total",
			Help: "Total number of blocks lost to a worker exclusion",
		}),
		blockLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kssh_block_latency_seconds",
			Help:    "Time from START to a successful FETCH for one block",
			Buckets: prometheus.DefBuckets,
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kssh_workers_active",
			Help: "Current number of non-excluded workers",
		}),
		excludedWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kssh_workers_excluded",
			Help: "Current number of excluded workers",
		}),
		avgUploadTimeout: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kssh_avg_upload_timeout_seconds",
			Help: "Mean worker upload timeout estimate",
		}),
		avgDownloadTimeout: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kssh_avg_download_timeout_seconds",
			Help: "Mean worker download timeout estimate",
		}),
		avgPollTimeout: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kssh_avg_poll_timeout_seconds",
			Help: "Mean worker poll timeout estimate",
		}),
	}

	prometheus.MustRegister(c.blocksDispatched)
	prometheus.MustRegister(c.blocksCompleted)
	prometheus.MustRegister(c.blocksRetried)
	prometheus.MustRegister(c.blocksDead)
	prometheus.MustRegister(c.blockLatency)
	prometheus.MustRegister(c.activeWorkers)
	prometheus.MustRegister(c.excludedWorkers)
	prometheus.MustRegister(c.avgUploadTimeout)
	prometheus.MustRegister(c.avgDownloadTimeout)
	prometheus.MustRegister(c.avgPollTimeout)

	return c
}

// RecordDispatch records one block being assigned to a worker.
func (c *Collector) RecordDispatch() {
	c.blocksDispatched.Inc()
}

// RecordCompleted records one block fetched back successfully, along
// with its end-to-end latency in seconds.
func (c *Collector) RecordCompleted(latencySeconds float64) {
	c.blocksCompleted.Inc()
	c.blockLatency.Observe(latencySeconds)
}

// RecordRetry records one block returned to the source for
// redelivery, without its worker being excluded.
func (c *Collector) RecordRetry() {
	c.blocksRetried.Inc()
}

// RecordDead records one block lost to a worker exclusion and
// redelivered to another worker.
func (c *Collector) RecordDead() {
	c.blocksDead.Inc()
}

// UpdateWorkerStats sets the current active/excluded worker gauges.
func (c *Collector) UpdateWorkerStats(active, excluded int) {
	c.activeWorkers.Set(float64(active))
	c.excludedWorkers.Set(float64(excluded))
}

// UpdateEstimators sets the current mean adaptive timeout estimates,
// in seconds, across all non-excluded workers.
func (c *Collector) UpdateEstimators(avgUpload, avgDownload, avgPoll float64) {
	c.avgUploadTimeout.Set(avgUpload)
	c.avgDownloadTimeout.Set(avgDownload)
	c.avgPollTimeout.Set(avgPoll)
}

// StartServer serves /metrics on the given port until the process
// exits or the listener errors. Intended to run in its own goroutine.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
