package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIsolatedCollector() *Collector {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	return NewCollector()
}

func TestNewCollectorInitializesAllMetrics(t *testing.T) {
	c := newIsolatedCollector()

	assert.NotNil(t, c.blocksDispatched)
	assert.NotNil(t, c.blocksCompleted)
	assert.NotNil(t, c.blocksRetried)
	assert.NotNil(t, c.blocksDead)
	assert.NotNil(t, c.blockLatency)
	assert.NotNil(t, c.activeWorkers)
	assert.NotNil(t, c.excludedWorkers)
	assert.NotNil(t, c.avgUploadTimeout)
	assert.NotNil(t, c.avgDownloadTimeout)
	assert.NotNil(t, c.avgPollTimeout)
}

func TestRecordDispatchDoesNotPanic(t *testing.T) {
	c := newIsolatedCollector()
	assert.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			c.RecordDispatch()
		}
	})
}

func TestRecordCompletedObservesLatency(t *testing.T) {
	c := newIsolatedCollector()
	for _, latency := range []float64{0.001, 0.01, 1.0, 5.0} {
		assert.NotPanics(t, func() { c.RecordCompleted(latency) })
	}
}

func TestRecordRetryAndDeadDoNotPanic(t *testing.T) {
	c := newIsolatedCollector()
	assert.NotPanics(t, func() {
		c.RecordRetry()
		c.RecordDead()
	})
}

func TestUpdateWorkerStats(t *testing.T) {
	c := newIsolatedCollector()
	assert.NotPanics(t, func() { c.UpdateWorkerStats(3, 1) })
}

func TestUpdateEstimators(t *testing.T) {
	c := newIsolatedCollector()
	assert.NotPanics(t, func() { c.UpdateEstimators(30.5, 12.25, 5) })
}

func TestConcurrentMetricUpdates(t *testing.T) {
	c := newIsolatedCollector()
	done := make(chan struct{}, 50)
	for i := 0; i < 50; i++ {
		go func() {
			c.RecordDispatch()
			c.RecordCompleted(0.1)
			c.UpdateWorkerStats(4, 0)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}
}

func TestSecondCollectorPanicsOnDuplicateRegistration(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	first := NewCollector()
	require.NotNil(t, first)

	assert.Panics(t, func() {
		NewCollector()
	})
}
