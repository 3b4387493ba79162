package dispatcher

// ============================================================================
// Per-scan batch construction: one transaction per acting worker.
// ============================================================================

import (
	"time"

	"github.com/kssh-dispatch/dispatch/internal/block"
	"github.com/kssh-dispatch/dispatch/internal/remoteproto"
	"github.com/kssh-dispatch/dispatch/internal/transaction"
	"github.com/kssh-dispatch/dispatch/internal/worker"
	"github.com/kssh-dispatch/dispatch/pkg/types"
)

// pending pairs a built transaction with enough context for its
// callback to be applied once the batch resolves.
type pending struct {
	worker *worker.Worker
	kind   action
	tx     *transaction.Transaction

	block     *types.Block // only set for actionStart
	stdoutTmp string       // only set for actionFetch
	stderrTmp string       // only set for actionFetch
}

func (d *Dispatcher) buildBatch(now time.Time) []*pending {
	var items []*pending
	for _, w := range d.Workers {
		switch d.decide(w, now) {
		case actionStart:
			if it := d.buildStart(w); it != nil {
				items = append(items, it)
			}
		case actionCheck:
			items = append(items, d.buildCheck(w))
		case actionFetch:
			if it := d.buildFetch(w); it != nil {
				items = append(items, it)
			}
		}
	}
	return items
}

func (d *Dispatcher) buildStart(w *worker.Worker) *pending {
	b, err := d.Source.Next()
	if err != nil {
		// Exhausted between HasMore and Next (another worker in this
		// same scan already claimed the last block), or a read error;
		// either way this worker sits idle for one more scan.
		if err != block.ErrExhausted {
			log.Warn("block source read failed", "host", w.Hostname, "error", err)
		}
		return nil
	}

	size, _ := b.Size()
	timeout := types.ScaleBySize(w.UploadTimeout, size, w.UploadSize)

	tx := &transaction.Transaction{
		Target:      w.Target(),
		Command:     remoteproto.Start(w.WorkingDir, d.Key, d.Task),
		Timeout:     timeout,
		Retries:     d.Retries,
		SuccessCode: 0, // START's own exit status; the task's code is judged by CHECK
		StdinPath:   b.Path,
	}
	return &pending{worker: w, kind: actionStart, tx: tx, block: b}
}

func (d *Dispatcher) buildCheck(w *worker.Worker) *pending {
	tx := &transaction.Transaction{
		Target:  w.Target(),
		Command: remoteproto.Check(w.WorkingDir, d.Key),
		Timeout: w.PollTimeout,
		Retries: d.Retries,
	}
	return &pending{worker: w, kind: actionCheck, tx: tx}
}

func (d *Dispatcher) buildFetch(w *worker.Worker) *pending {
	outTmp, err := d.FS.CreateTemp()
	if err != nil {
		log.Warn("create fetch temp file failed", "host", w.Hostname, "error", err)
		return nil
	}
	errTmp, err := d.FS.CreateTemp()
	if err != nil {
		log.Warn("create fetch temp file failed", "host", w.Hostname, "error", err)
		d.FS.RemoveTemp(outTmp)
		return nil
	}

	timeout := types.ScaleBySize(w.DownloadTimeout, w.RemoteSize, w.DownloadSize)
	tx := &transaction.Transaction{
		Target:      w.Target(),
		Command:     remoteproto.Fetch(w.WorkingDir, d.Key),
		Timeout:     timeout,
		Retries:     d.Retries,
		SuccessCode: 0,
		StdoutPath:  outTmp,
		StderrPath:  errTmp,
	}
	return &pending{worker: w, kind: actionFetch, tx: tx, stdoutTmp: outTmp, stderrTmp: errTmp}
}
