// ============================================================================
// kssh-dispatch Block Source - Work Unit Production
// ============================================================================
//
// Package: internal/block
// File: source.go
// Purpose: Defines the abstraction for producing Blocks and reporting
// their fate (retried or done), decoupling the dispatcher from whether
// the input is a line-delimited stream or a set of whole files.
//
// Motivation:
//   Mirrors the teacher's JobSource split between local and distributed
//   origin — here the two origins are "one stream split into blocksize
//   line groups" and "one block per input file". Both share the same
//   retry-queue and exhaustion contract so the dispatcher's scan loop
//   never needs to know which one it's driving.
//
// ============================================================================

package block

import (
	"errors"

	"github.com/kssh-dispatch/dispatch/pkg/types"
)

// ErrExhausted is returned by Next when no more blocks are available
// (retry queue empty and the underlying stream/file list is consumed).
var ErrExhausted = errors.New("block source exhausted")

// ErrLenUnsupported is returned by Len for sources that cannot report an
// exact count in advance (stdin-backed line sources).
var ErrLenUnsupported = errors.New("block source does not support Len")

// Source produces Blocks and tracks their completion. Implementations
// are driven exclusively from the dispatcher's single-threaded scan
// loop (§5): no internal locking is required.
type Source interface {
	// HasMore reports whether a future Next call could succeed: the
	// retry queue is non-empty, or the underlying stream has more.
	HasMore() bool

	// Next returns the next Block, preferring the retry queue (FIFO)
	// over fresh production. Returns ErrExhausted when none remain.
	Next() (*types.Block, error)

	// Retry pushes a block back onto the FIFO retry queue.
	Retry(b *types.Block)

	// Done signals that b was successfully fetched. Implementations may
	// release resources tied to b (the line source removes its temp file).
	Done(b *types.Block) error

	// Close releases the underlying stream.
	Close() error

	// Len reports the exact block count, required by the failover
	// policy. Returns ErrLenUnsupported when the source cannot know in
	// advance (e.g. reading from stdin).
	Len() (int, error)
}

// retryQueue is a small FIFO embedded by both source variants. It is
// mutated only from dispatcher callbacks, which all run inside the
// single-threaded scan loop — no mutex needed (see spec §5).
type retryQueue struct {
	items []*types.Block
}

func (q *retryQueue) push(b *types.Block) {
	q.items = append(q.items, b)
}

func (q *retryQueue) pop() *types.Block {
	if len(q.items) == 0 {
		return nil
	}
	b := q.items[0]
	q.items = q.items[1:]
	return b
}

func (q *retryQueue) len() int {
	return len(q.items)
}
