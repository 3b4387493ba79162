package localfs

import "github.com/kssh-dispatch/dispatch/pkg/types"

// Output is the sink a dispatcher hands fetched per-block stdout/stderr
// temp files to. The two implementations differ only in where the
// stdout bytes end up; both log and reclaim the stderr temp file.
type Output interface {
	// Write consumes stdoutTmp and stderrTmp (both paths to temp files
	// already populated by a successful FETCH) and reclaims them.
	Write(hostname string, block *types.Block, stdoutTmp, stderrTmp string) error
	Close() error
}

// tempRemover is the subset of Filesystem an Output needs to reclaim
// the temp files it consumes.
type tempRemover interface {
	RemoveTemp(path string)
}
