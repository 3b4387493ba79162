package dispatcher

// ============================================================================
// Status snapshot, read by the CLI's status command. The metrics
// collector is fed separately, by the scan loop's reportStats.
// ============================================================================

import "github.com/kssh-dispatch/dispatch/pkg/types"

// WorkerSnapshot is a point-in-time view of one worker, safe to read
// without racing the scan loop because the CLI only calls Snapshot
// between runs or from the same goroutine driving Run.
type WorkerSnapshot struct {
	Hostname        string
	State           types.WorkerState
	Completed       int
	Errors          int
	UploadTimeout   string
	DownloadTimeout string
	PollTimeout     string
	PollInterval    string
}

// Snapshot is the aggregate view of a dispatch run: per-worker state
// plus totals, mirroring the shape of the teacher's job-queue stats map.
type Snapshot struct {
	Workers   []WorkerSnapshot
	Completed int
	Active    int
	Excluded  int
}

// Snapshot reports the current state of every worker, for a "dispatch
// status" subcommand or any other operator-facing view.
func (d *Dispatcher) Snapshot() Snapshot {
	var snap Snapshot
	for _, w := range d.Workers {
		ws := WorkerSnapshot{
			Hostname:        w.Hostname,
			State:           w.State(),
			Completed:       w.Completed,
			Errors:          w.ErrorCount(),
			UploadTimeout:   w.UploadTimeout.String(),
			DownloadTimeout: w.DownloadTimeout.String(),
			PollTimeout:     w.PollTimeout.String(),
			PollInterval:    w.PollInterval.String(),
		}
		snap.Workers = append(snap.Workers, ws)
		snap.Completed += w.Completed
		if w.Excluded() {
			snap.Excluded++
		} else {
			snap.Active++
		}
	}
	return snap
}
