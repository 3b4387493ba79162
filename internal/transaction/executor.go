// ============================================================================
// kssh-dispatch Transaction Executor - Bounded-Concurrency Batch Runner
// ============================================================================
//
// Package: internal/transaction
// File: executor.go
// Function: Runs a batch of Transactions with at most `concurrency` local
// child processes alive at once.
//
// Design notes:
//   The spec describes an admission ring that busy-waits in one-second
//   increments for a free slot. A buffered channel used as a semaphore
//   gives the same observable contract — never more than `concurrency`
//   transactions running, Sync blocks until the whole batch resolves,
//   no ordering between batch members — without the busy-wait.
//
// ============================================================================

package transaction

import (
	"sync"
	"time"
)

// Executor runs batches of transactions with bounded parallelism.
type Executor struct{}

// NewExecutor creates a new Executor. It carries no state of its own;
// every transaction is self-contained.
func NewExecutor() *Executor {
	return &Executor{}
}

// Sync runs every transaction in batch, never allowing more than
// concurrency of them to have a live child process at once, and returns
// only once every transaction in batch has resolved (status != incomplete).
func (e *Executor) Sync(batch []*Transaction, concurrency int) {
	if len(batch) == 0 {
		return
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, t := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(t *Transaction) {
			defer wg.Done()
			defer func() { <-sem }()
			t.Run()
		}(t)
	}
	wg.Wait()
}

// Many builds one transaction per target - each with its own command,
// timeout, and optional stdin file, all sharing a retry budget - and
// runs the whole batch through Sync bounded by concurrency. Every
// worker-broadcast in this repo (init-file/init-script upload, remote
// cleanup) routes through this one primitive rather than hand-rolling
// its own batch loop; the §4.1 "same command for every worker" case is
// just the trivial instance where every entry of cmds is equal.
func (e *Executor) Many(targets []Target, cmds []string, timeouts []time.Duration, stdinPaths []string, retries, concurrency int) []*Transaction {
	batch := make([]*Transaction, len(targets))
	for i, target := range targets {
		tx := &Transaction{
			Target:  target,
			Command: cmds[i],
			Timeout: timeouts[i],
			Retries: retries,
		}
		if stdinPaths != nil {
			tx.StdinPath = stdinPaths[i]
		}
		batch[i] = tx
	}
	e.Sync(batch, concurrency)
	return batch
}
