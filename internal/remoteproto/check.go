package remoteproto

// ============================================================================
// CHECK output parsing: tolerant of 2-4 CSV fields.
// ============================================================================

import (
	"fmt"
	"strconv"
	"strings"
)

// CheckResult is the parsed form of one CHECK line:
// "<mtime>,<pid-or-Done>[,<exit_code>[,<size>]]".
type CheckResult struct {
	Heartbeat int64
	Pid       string // "Done" once the task has finished
	Done      bool
	ExitCode  *int64
	Size      *int64
}

// ParseCheck requires the heartbeat and pid fields and accepts up to
// two more; missing trailing fields resolve to nil rather than an
// error, since the wrapper only ever emits exit_code/size once the task
// is done. Fields past the fourth are ignored.
func ParseCheck(line string) (CheckResult, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) == 0 || fields[0] == "" {
		return CheckResult{}, fmt.Errorf("malformed check output: %q", line)
	}

	heartbeat, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return CheckResult{}, fmt.Errorf("malformed check heartbeat in %q: %w", line, err)
	}

	result := CheckResult{Heartbeat: heartbeat}
	if len(fields) < 2 {
		return CheckResult{}, fmt.Errorf("malformed check output, missing pid: %q", line)
	}
	result.Pid = fields[1]
	result.Done = result.Pid == "Done"

	if len(fields) >= 3 {
		code, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return CheckResult{}, fmt.Errorf("malformed check exit code in %q: %w", line, err)
		}
		result.ExitCode = &code
	}

	if len(fields) >= 4 {
		size, err := strconv.ParseInt(fields[3], 10, 64)
		if err == nil {
			result.Size = &size
		}
		// A malformed size is tolerated as absent; it is advisory only,
		// used for download-timeout scaling, never for status decisions.
	}

	return result, nil
}
