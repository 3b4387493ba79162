// ============================================================================
// kssh-dispatch Dispatcher - Scan Loop Driver
// ============================================================================
//
// Package: internal/dispatcher
// File: dispatcher.go
// Function: Composes the block source, the worker fleet, the
// distribution policy, and the transaction executor into the scan
// loop that drives a run from start to completion.
//
// The loop is a single logical driver: each scan decides an action per
// worker, builds one transaction per acting worker, runs the whole
// batch through the executor (bounded parallelism, no ordering between
// members), then applies every resulting callback sequentially before
// sleeping until the next worker is due. Worker, source, and filesystem
// state are mutated only from this loop, after the batch resolves —
// never from inside a transaction's own execution.
//
// ============================================================================

package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kssh-dispatch/dispatch/internal/block"
	"github.com/kssh-dispatch/dispatch/internal/distribution"
	"github.com/kssh-dispatch/dispatch/internal/localfs"
	"github.com/kssh-dispatch/dispatch/internal/metrics"
	"github.com/kssh-dispatch/dispatch/internal/transaction"
	"github.com/kssh-dispatch/dispatch/internal/worker"
	"github.com/kssh-dispatch/dispatch/pkg/types"
)

var log = slog.Default()

// action is decide(w)'s pure output: what, if anything, to run for a
// worker on this scan.
type action int

const (
	actionNone action = iota
	actionStart
	actionCheck
	actionFetch
)

// Dispatcher composes every component a run needs. Exported fields are
// meant to be filled by the CLI's wiring; none of it is fixed up
// lazily by methods below, so build it completely before calling Run.
type Dispatcher struct {
	Workers []*worker.Worker
	Source  block.Source
	Policy  distribution.Policy
	Executor *transaction.Executor
	FS       *localfs.Filesystem
	Output   localfs.Output

	Key             string // run identifier, shared by local and remote temp names
	Task            string // opaque remote shell fragment run against each block
	TaskSuccessCode int
	Concurrency     int
	Retries         int

	// Metrics is optional. When nil, every callback site below skips
	// its recording call; the scan loop runs identically either way.
	Metrics *metrics.Collector
}

// reportStats pushes the current worker pool health and mean adaptive
// timeout estimates into the metrics collector, if one is wired.
func (d *Dispatcher) reportStats() {
	if d.Metrics == nil {
		return
	}
	active, excluded := 0, 0
	var sumUpload, sumDownload, sumPoll float64
	for _, w := range d.Workers {
		if w.Excluded() {
			excluded++
			continue
		}
		active++
		sumUpload += w.UploadTimeout.Seconds()
		sumDownload += w.DownloadTimeout.Seconds()
		sumPoll += w.PollTimeout.Seconds()
	}
	d.Metrics.UpdateWorkerStats(active, excluded)
	if active > 0 {
		d.Metrics.UpdateEstimators(sumUpload/float64(active), sumDownload/float64(active), sumPoll/float64(active))
	}
}

// goodWorkers counts non-excluded workers, the denominator failover
// mode's target is computed against.
func (d *Dispatcher) goodWorkers() int {
	n := 0
	for _, w := range d.Workers {
		if !w.Excluded() {
			n++
		}
	}
	return n
}

// decide is a pure function from a worker's state (plus the clock and
// the distribution policy) to the action the scan loop should take for
// it this round. It performs no I/O and mutates nothing.
func (d *Dispatcher) decide(w *worker.Worker, now time.Time) action {
	if w.Excluded() {
		return actionNone
	}
	switch w.State() {
	case types.StateIdle:
		if !d.Source.HasMore() {
			return actionNone
		}
		if !d.Policy.CanAccept(w.Completed, d.goodWorkers()) {
			return actionNone
		}
		return actionStart
	case types.StateAssignedRunning:
		if w.ShouldPoll(now) {
			return actionCheck
		}
		return actionNone
	case types.StateAssignedDone:
		return actionFetch
	default:
		return actionNone
	}
}

// active reports whether the loop has any reason to run another scan:
// outstanding work in the source, or a worker mid-flight.
func (d *Dispatcher) active() bool {
	if d.Source.HasMore() {
		return true
	}
	for _, w := range d.Workers {
		switch w.State() {
		case types.StateAssignedRunning, types.StateAssignedDone:
			return true
		}
	}
	return false
}

// minWake is the earliest time any non-excluded worker is next due:
// the minimum, over non-excluded workers, of polled+poll_interval.
// A zero Polled (idle, just-finished, or never polled) forces an
// immediate wake.
func (d *Dispatcher) minWake(now time.Time) time.Time {
	var earliest time.Time
	for _, w := range d.Workers {
		if w.Excluded() {
			continue
		}
		wake := w.NextWake()
		if wake.IsZero() {
			wake = now
		}
		if earliest.IsZero() || wake.Before(earliest) {
			earliest = wake
		}
	}
	if earliest.IsZero() {
		return now
	}
	return earliest
}

// Run drives the scan loop to completion: it returns nil once no
// worker is active and the source is exhausted, or an error if the
// source is not empty but every worker has been excluded (no way to
// make further progress).
func (d *Dispatcher) Run(ctx context.Context) error {
	for d.active() {
		if d.Source.HasMore() && d.goodWorkers() == 0 && !d.anyWorkerMidFlight() {
			return fmt.Errorf("all workers excluded with work remaining")
		}

		now := time.Now()
		items := d.buildBatch(now)
		if len(items) > 0 {
			batch := make([]*transaction.Transaction, len(items))
			for i, it := range items {
				batch[i] = it.tx
			}
			d.Executor.Sync(batch, d.Concurrency)
			for _, it := range items {
				d.applyCallback(it, time.Now())
			}
		}

		d.reportStats()
		sleep := time.Until(d.minWake(time.Now()))
		if sleep < time.Second {
			sleep = time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return nil
}

func (d *Dispatcher) anyWorkerMidFlight() bool {
	for _, w := range d.Workers {
		switch w.State() {
		case types.StateAssignedRunning, types.StateAssignedDone:
			return true
		}
	}
	return false
}
