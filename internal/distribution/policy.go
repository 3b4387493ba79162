// ============================================================================
// kssh-dispatch Distribution Policies
// ============================================================================
//
// Package: internal/distribution
// File: policy.go
// Function: The two policies that plug into the dispatcher's decide(w)
// at the "accept a fresh block" branch.
//
// ============================================================================

package distribution

import (
	"fmt"

	"github.com/kssh-dispatch/dispatch/pkg/types"
)

// Policy decides whether an idle, non-excluded worker may accept a
// fresh block right now.
type Policy interface {
	// CanAccept reports acceptance given the worker's own completed
	// count and the current number of non-excluded workers.
	CanAccept(completed, goodWorkers int) bool
}

// New builds the policy named by mode. Failover needs totalBlocks from
// the source's Len(); callers must resolve that (and its
// ErrLenUnsupported failure) before calling New.
func New(mode types.DistributionMode, totalBlocks int) (Policy, error) {
	switch mode {
	case types.ModePerformance:
		return &Performance{}, nil
	case types.ModeFailover:
		return &Failover{totalBlocks: totalBlocks}, nil
	default:
		return nil, fmt.Errorf("unknown distribution mode %q", mode)
	}
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
