// ============================================================================
// kssh-dispatch Worker - Per-Machine Dispatch State
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Exclusive state for one remote machine: identity, adaptive
// timeout/poll estimators, current block assignment, and error budget.
//
// State machine:
//   Idle -> AssignedRunning -> AssignedDone -> Idle (Fetch succeeds)
//                                            -> Idle (Fetch fails, retried)
//   Any non-excluded state -> Excluded, once errors exceed the budget.
//   Excluded is terminal: no further transactions are issued to it.
//
// ============================================================================

package worker

import (
	"time"

	"github.com/kssh-dispatch/dispatch/internal/transaction"
	"github.com/kssh-dispatch/dispatch/pkg/types"
)

// maxErrors is the error budget; the 6th error excludes the worker.
const maxErrors = 5

// Worker is exclusive state for one remote machine.
type Worker struct {
	Hostname   string
	Username   string
	WorkingDir string
	ConnectCmd string

	InitTimeout     time.Duration
	UploadTimeout   time.Duration
	DownloadTimeout time.Duration
	PollTimeout     time.Duration
	PollInterval    time.Duration

	UploadSize   int64
	DownloadSize int64

	Block     *types.Block
	Start     int64 // seconds since epoch, per the remote pid file's mtime
	Done      bool
	Polled    time.Time // zero value means "poll immediately"
	Heartbeat int64     // last observed pid-file mtime
	Completed int

	// RemoteSize is the size CHECK last reported for the task's output,
	// read off the pid file's CSV once the task is done. It's consumed
	// once, to scale the upcoming FETCH's timeout against DownloadSize.
	RemoteSize int64

	errors   int
	excluded bool
}

// New builds a Worker with generous initial estimator defaults: every
// adaptive timeout starts at the clamp ceiling so early blocks aren't
// starved before the WMA has any data to work from, and poll interval
// starts at a moderate 5s.
func New(hostname, username, workingDir, connectCmd string) *Worker {
	return &Worker{
		Hostname:        hostname,
		Username:        username,
		WorkingDir:      workingDir,
		ConnectCmd:      connectCmd,
		InitTimeout:     types.EstimatorMax,
		UploadTimeout:   types.EstimatorMax,
		DownloadTimeout: types.EstimatorMax,
		PollTimeout:     types.EstimatorMax,
		PollInterval:    5 * time.Second,
	}
}

// Target copies the fields a transaction needs to reach this worker.
// Worker owns the connection identity; transaction has no notion of it.
func (w *Worker) Target() transaction.Target {
	return transaction.Target{
		Host:       w.Hostname,
		Username:   w.Username,
		ConnectCmd: w.ConnectCmd,
	}
}

// State derives the worker's position in the state machine from its
// fields, per the invariants in the data model: block == nil iff idle
// or excluded; done == true implies block != nil.
func (w *Worker) State() types.WorkerState {
	if w.excluded {
		return types.StateExcluded
	}
	if w.Block == nil {
		return types.StateIdle
	}
	if w.Done {
		return types.StateAssignedDone
	}
	return types.StateAssignedRunning
}

// Excluded reports whether the worker is permanently quarantined.
func (w *Worker) Excluded() bool {
	return w.excluded
}

// Error records one failed transaction against this worker's error
// budget. Exclusion is sticky: once set, it is never cleared by
// ResetErrors. Returns the worker's exclusion state after the increment.
func (w *Worker) Error() bool {
	w.errors++
	if w.errors > maxErrors {
		w.excluded = true
	}
	return w.excluded
}

// ResetErrors clears the error count after a successful fetch. Errors
// are assumed temporally correlated; a successful round is taken as
// sufficient evidence of recovery. Has no effect once excluded.
func (w *Worker) ResetErrors() {
	if w.excluded {
		return
	}
	w.errors = 0
}

// ErrorCount reports the current error tally, for status reporting.
func (w *Worker) ErrorCount() int {
	return w.errors
}

// Assign hands the worker a fresh block and clears its prior run state.
func (w *Worker) Assign(b *types.Block) {
	w.Block = b
	w.Done = false
	w.Heartbeat = 0
}

// Release returns the worker to idle after a fetch (success or final
// failure) resolves.
func (w *Worker) Release() {
	w.Block = nil
	w.Done = false
	w.Start = 0
	w.Heartbeat = 0
	w.Polled = time.Time{}
}

// ShouldPoll reports whether, as of now, the worker is due for a CHECK.
// A zero Polled value means "poll immediately".
func (w *Worker) ShouldPoll(now time.Time) bool {
	if w.Polled.IsZero() {
		return true
	}
	return !now.Before(w.Polled.Add(w.PollInterval))
}

// NextWake returns the time at which this worker next becomes due for a
// CHECK, used by the dispatcher to size its inter-scan sleep.
func (w *Worker) NextWake() time.Time {
	if w.Polled.IsZero() {
		return time.Time{}
	}
	return w.Polled.Add(w.PollInterval)
}
