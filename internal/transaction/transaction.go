// ============================================================================
// kssh-dispatch Transaction - Remote Command Execution Unit
// ============================================================================
//
// Package: internal/transaction
// File: transaction.go
// Function: One attempt at one remote shell command, run as a local
// subprocess against an opaque transport prefix (connect_cmd).
//
// How it works:
//   A Transaction describes a single remote invocation:
//     [<stdin] <connect_cmd> <user>@<host> "<shell-quoted command>" [>stdout] [2>stderr]
//   Run() builds that line, forks it under "sh -c", and polls the child
//   once a second against Transaction.Timeout. A timeout kills the child
//   and, if the retry budget allows, re-runs the whole attempt.
//
// Resolution:
//   - Success: process exits with Transaction.SuccessCode (default 0)
//   - Error:   process exits with any other code
//   - Timeout: process still running past Timeout; killed
//   Retries apply only to Timeout; Error is terminal for that attempt.
//
// ============================================================================

package transaction

import (
	"bytes"
	"os/exec"
	"strings"
	"time"

	"github.com/kssh-dispatch/dispatch/pkg/types"
)

// Target identifies the remote machine a transaction runs against. It is
// a plain copy of the worker's connection fields, not the worker record
// itself — the transaction package has no notion of worker state.
type Target struct {
	Host       string
	Username   string
	ConnectCmd string
}

// Transaction is one attempt at one remote shell command.
type Transaction struct {
	Target      Target
	Command     string // opaque remote shell fragment, quoted exactly once
	Timeout     time.Duration
	Retries     int
	SuccessCode int // defaults to 0 if unset

	StdinPath  string // optional; local file piped to the child's stdin
	StdoutPath string // optional; child's stdout redirected to this file
	StderrPath string // optional; child's stderr redirected to this file

	// Label and State are caller-supplied context carried through to the
	// dispatcher's post-completion callback; the executor never reads them.
	Label string
	State any

	// Results, populated after Run returns.
	Status  types.TransactionStatus
	Output  string // captured stdout, only set when StdoutPath is empty
	Elapsed time.Duration

	attempt int
}

// buildLine assembles the local shell line per spec: the stdin
// redirection (if any) is prefixed exactly once, ahead of connect_cmd;
// the remote command is shell-quoted exactly once as a single argument.
func (t *Transaction) buildLine() string {
	line := ""
	if t.StdinPath != "" {
		line += "<" + shellQuote(t.StdinPath) + " "
	}
	line += t.Target.ConnectCmd + " " + t.Target.Username + "@" + t.Target.Host + " " + shellQuote(t.Command)
	if t.StdoutPath != "" {
		line += " >" + shellQuote(t.StdoutPath)
	}
	if t.StderrPath != "" {
		line += " 2>" + shellQuote(t.StderrPath)
	}
	return line
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// Run executes the transaction, polling the child process at one-second
// granularity against Timeout, retrying Timeout (only) up to Retries
// times. It never panics or returns an error: every outcome is recorded
// on t.Status.
func (t *Transaction) Run() {
	for {
		t.runOnce()
		if t.Status == types.StatusTimeout && t.attempt < t.Retries {
			t.attempt++
			continue
		}
		return
	}
}

func (t *Transaction) runOnce() {
	t.Status = types.StatusIncomplete
	line := t.buildLine()
	cmd := exec.Command("sh", "-c", line)

	var outBuf bytes.Buffer
	if t.StdoutPath == "" {
		cmd.Stdout = &outBuf
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		t.Status = types.StatusError
		t.Elapsed = time.Since(start)
		return
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			t.Elapsed = time.Since(start)
			t.resolve(err, cmd, &outBuf)
			return
		case <-ticker.C:
			if time.Since(start) >= t.Timeout {
				_ = cmd.Process.Kill()
				// The Wait goroutine reaps the shell; a transport process it
				// spawned may keep the stdout pipe open, so waiting on that
				// is bounded to a short grace period.
				select {
				case <-done:
				case <-time.After(1 * time.Second):
				}
				t.Elapsed = time.Since(start)
				t.Status = types.StatusTimeout
				return
			}
		}
	}
}

func (t *Transaction) resolve(waitErr error, cmd *exec.Cmd, outBuf *bytes.Buffer) {
	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			t.Status = types.StatusError
			return
		}
	} else if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	if exitCode == t.SuccessCode {
		t.Status = types.StatusSuccess
		if t.StdoutPath == "" {
			t.Output = outBuf.String()
		}
		return
	}
	t.Status = types.StatusError
}

