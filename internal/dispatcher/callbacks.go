package dispatcher

// ============================================================================
// Post-transaction callbacks: start_post, check_post, fetch_post.
// ============================================================================
//
// Every callback here runs from the scan loop after the batch's Sync
// call has returned, never concurrently with another callback or with
// a transaction's own execution thread — so none of this needs locking.
//
// ============================================================================

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kssh-dispatch/dispatch/internal/remoteproto"
	"github.com/kssh-dispatch/dispatch/internal/worker"
	"github.com/kssh-dispatch/dispatch/pkg/types"
)

func (d *Dispatcher) applyCallback(it *pending, now time.Time) {
	switch it.kind {
	case actionStart:
		d.startPost(it, now)
	case actionCheck:
		d.checkPost(it, now)
	case actionFetch:
		d.fetchPost(it, now)
	}
}

// startPost: on success, assign the block and record the upload
// estimate; on timeout, double the upload timeout in addition to the
// shared failure handling; on any failure, the block goes back to the
// source's retry queue and the worker's error budget is charged.
func (d *Dispatcher) startPost(it *pending, now time.Time) {
	w, tx, b := it.worker, it.tx, it.block

	if tx.Status != types.StatusSuccess {
		if tx.Status == types.StatusTimeout {
			w.UploadTimeout = types.ClampDuration(w.UploadTimeout * 2)
		}
		w.Error()
		d.Source.Retry(b)
		if d.Metrics != nil {
			d.Metrics.RecordRetry()
		}
		return
	}

	w.Assign(b)
	w.Polled = now
	if d.Metrics != nil {
		d.Metrics.RecordDispatch()
	}

	size, err := b.Size()
	if err != nil {
		log.Warn("stat started block failed", "host", w.Hostname, "block", b.Description, "error", err)
	} else {
		prevTimeout := w.UploadTimeout
		w.UploadTimeout = types.WMA(tx.Elapsed, &prevTimeout)
		w.UploadSize = types.WMASize(size, w.UploadSize)
	}

	// worker.start comes from START's own stdout (the pid file's initial
	// mtime); a failed START never reaches this branch, and an empty or
	// malformed value is logged rather than trusted.
	if start, err := strconv.ParseInt(strings.TrimSpace(tx.Output), 10, 64); err == nil {
		w.Start = start
	} else {
		log.Warn("start output did not parse as a timestamp", "host", w.Hostname, "output", tx.Output)
	}
}

// checkPost parses the CHECK CSV line and advances (or fails) the
// worker's running task accordingly. A transaction-level failure (the
// CHECK itself timed out or errored) and a malformed CSV line are both
// treated as a dead heartbeat.
func (d *Dispatcher) checkPost(it *pending, now time.Time) {
	w, tx := it.worker, it.tx

	if tx.Status != types.StatusSuccess {
		if tx.Status == types.StatusTimeout {
			w.PollTimeout = types.ClampDuration(w.PollTimeout * 2)
		}
		d.deadHeartbeat(w, now)
		return
	}

	result, err := remoteproto.ParseCheck(tx.Output)
	if err != nil {
		log.Warn("malformed check output", "host", w.Hostname, "output", tx.Output, "error", err)
		d.deadHeartbeat(w, now)
		return
	}

	// Finally, every successful CHECK (done or not) adapts the poll
	// timeout from how long this round trip actually took.
	prevPollTimeout := w.PollTimeout
	w.PollTimeout = types.WMA(tx.Elapsed*3/2, &prevPollTimeout)

	if !result.Done {
		if result.Heartbeat != w.Heartbeat {
			w.Heartbeat = result.Heartbeat
			w.Polled = now
			return
		}
		d.deadHeartbeat(w, now)
		return
	}

	if result.ExitCode == nil || *result.ExitCode != int64(d.TaskSuccessCode) {
		// Done, but with the wrong exit code: retry the block, not a fetch.
		w.Error()
		b := w.Block
		w.Release()
		d.Source.Retry(b)
		if d.Metrics != nil {
			d.Metrics.RecordRetry()
		}
		return
	}

	elapsedRun := time.Duration(result.Heartbeat-w.Start) * time.Second
	target := time.Duration(float64(elapsedRun) * 1.1 / 4)
	prevInterval := w.PollInterval
	w.PollInterval = types.WMA(target, &prevInterval)
	w.Done = true
	if result.Size != nil {
		w.RemoteSize = *result.Size
	}
	w.Polled = time.Time{} // decide() fetches a done worker unconditionally regardless
}

// deadHeartbeat is shared by the three "this CHECK told us nothing
// useful" paths: transaction failure, malformed CSV, and an unchanged
// heartbeat. It always charges the error budget; only exclusion
// releases the block back to the source, matching the error table's
// "otherwise left assigned" behavior.
func (d *Dispatcher) deadHeartbeat(w *worker.Worker, now time.Time) {
	excluded := w.Error()
	w.Polled = now
	if excluded {
		b := w.Block
		w.Release()
		d.Source.Retry(b)
		if d.Metrics != nil {
			d.Metrics.RecordDead()
		}
	}
}

// fetch_post: on success, hand the fetched files to the filesystem
// surface, update the download estimate, and release the worker; on
// failure, double the download timeout on a timeout and retry the
// block.
func (d *Dispatcher) fetchPost(it *pending, now time.Time) {
	w, tx := it.worker, it.tx

	if tx.Status != types.StatusSuccess {
		if tx.Status == types.StatusTimeout {
			w.DownloadTimeout = types.ClampDuration(w.DownloadTimeout * 2)
		}
		b := w.Block
		w.Error()
		w.Release()
		d.Source.Retry(b)
		d.FS.RemoveTemp(it.stdoutTmp)
		d.FS.RemoveTemp(it.stderrTmp)
		if d.Metrics != nil {
			d.Metrics.RecordRetry()
		}
		return
	}

	block := w.Block
	actualSize := int64(0)
	if info, err := os.Stat(it.stdoutTmp); err == nil {
		actualSize = info.Size()
	}

	if err := d.Output.Write(w.Hostname, block, it.stdoutTmp, it.stderrTmp); err != nil {
		log.Error("write fetched output failed", "host", w.Hostname, "block", block.Description, "error", err)
	}

	prevTimeout := w.DownloadTimeout
	w.DownloadTimeout = types.WMA(tx.Elapsed, &prevTimeout)
	w.DownloadSize = types.WMASize(actualSize, w.DownloadSize)

	if err := d.Source.Done(block); err != nil {
		log.Warn("source cleanup after done failed", "block", block.Description, "error", err)
	}
	w.Completed++
	w.ResetErrors()
	if d.Metrics != nil && w.Start > 0 {
		d.Metrics.RecordCompleted(float64(now.Unix() - w.Start))
	}
	w.Release()
}
