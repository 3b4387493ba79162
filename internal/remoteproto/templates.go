// ============================================================================
// kssh-dispatch Remote Protocol - Shell Wrapper Templates
// ============================================================================
//
// Package: internal/remoteproto
// File: templates.go
// Function: Builds the four remote shell scripts (START, CHECK, FETCH,
// CLEANUP), templated against a worker's working directory and the
// run's KEY. Each returns plain script text; the caller (internal/
// transaction) is responsible for shell-quoting the result exactly
// once as the single argument passed through the connect command.
//
// ============================================================================

package remoteproto

import (
	"fmt"
	"strings"
)

// fileName builds one of the four per-run remote filenames.
func fileName(key, suffix string) string {
	return fmt.Sprintf("kssh_%s_%s", key, suffix)
}

// quote wraps s in single quotes for embedding inside one of these
// remote scripts, escaping any single quote it contains. Substitutions
// of wd/key/task happen before this is applied, never after, so a
// value can never smuggle unescaped quoting into the script.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// Start builds the script that captures stdin into the per-run input
// file and launches a daemonized monitor running task against it.
// The transaction this is run through must carry the block's local
// path as its StdinPath, so the remote session's stdin becomes the
// input file.
func Start(wd, key, task string) string {
	in := fileName(key, "in")
	out := fileName(key, "out")
	errf := fileName(key, "err")
	pid := fileName(key, "pid")

	monitor := fmt.Sprintf(
		`sh -c %s <%s >%s 2>%s & pid=$!; while kill -0 $pid 2>/dev/null; do echo $pid >%s; sleep 1; done; wait $pid; echo "Done,$?" >%s`,
		quote(task), in, out, errf, pid, pid,
	)

	return fmt.Sprintf(
		`cd %s && cat >%s && { nohup sh -c %s </dev/null >/dev/null 2>&1 & } && sleep 1 && { stat -c %%Y %s 2>/dev/null || stat -f %%m %s; }`,
		quote(wd), in, quote(monitor), pid, pid,
	)
}

// Check builds the script that reports the pid file's mtime alongside
// its contents: "<pid>" while the task runs, or "Done,<exit_code>"
// once it has finished, in which case the output file's size is
// appended as a fourth field.
func Check(wd, key string) string {
	out := fileName(key, "out")
	pid := fileName(key, "pid")

	return fmt.Sprintf(
		`cd %s && mtime=$(stat -c %%Y %s 2>/dev/null || stat -f %%m %s) && content=$(cat %s 2>/dev/null); `+
			`case "$content" in Done,*) size=$(stat -c %%s %s 2>/dev/null || stat -f %%z %s); echo "$mtime,$content,$size";; `+
			`*) echo "$mtime,$content";; esac`,
		quote(wd), pid, pid, pid, out, out,
	)
}

// Fetch builds the script that streams the remote stdout and stderr
// files to its own stdout/stderr, for the transaction to redirect into
// local temp files.
func Fetch(wd, key string) string {
	out := fileName(key, "out")
	errf := fileName(key, "err")
	return fmt.Sprintf(`cd %s && cat %s && cat %s 1>&2`, quote(wd), out, errf)
}

// Cleanup builds the script that removes every file in the worker's
// working directory. Destructive; the dispatcher only issues this
// behind an opt-in flag.
func Cleanup(wd string) string {
	return fmt.Sprintf(`cd %s && rm -f ./*`, quote(wd))
}
