package dispatcher

// ============================================================================
// Initialization phase and opt-in remote cleanup.
// ============================================================================

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kssh-dispatch/dispatch/internal/remoteproto"
	"github.com/kssh-dispatch/dispatch/internal/transaction"
	"github.com/kssh-dispatch/dispatch/internal/worker"
	"github.com/kssh-dispatch/dispatch/pkg/types"
)

func quoteShell(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// Initialize runs the optional init-file and init-script payloads
// against every worker before dispatch starts, dropping any worker
// whose transaction doesn't resolve to success. Only the survivors
// remain in d.Workers afterward.
func (d *Dispatcher) Initialize(initFile, initScript string) error {
	if initFile != "" {
		d.runInitBatch(initFile, false)
	}
	if initScript != "" {
		d.runInitBatch(initScript, true)
	}
	if len(d.Workers) == 0 {
		return fmt.Errorf("no workers survived initialization")
	}
	return nil
}

func (d *Dispatcher) runInitBatch(localPath string, executable bool) {
	basename := filepath.Base(localPath)

	targets := make([]transaction.Target, len(d.Workers))
	cmds := make([]string, len(d.Workers))
	timeouts := make([]time.Duration, len(d.Workers))
	stdinPaths := make([]string, len(d.Workers))
	for i, w := range d.Workers {
		targets[i] = w.Target()
		cmds[i] = initUploadCommand(w.WorkingDir, basename, executable)
		timeouts[i] = w.InitTimeout
		stdinPaths[i] = localPath
	}

	batch := d.Executor.Many(targets, cmds, timeouts, stdinPaths, d.Retries, d.Concurrency)

	var survivors []*worker.Worker
	for i, tx := range batch {
		w := d.Workers[i]
		if tx.Status == types.StatusSuccess {
			survivors = append(survivors, w)
			continue
		}
		log.Warn("init transaction failed, dropping worker",
			"host", w.Hostname, "path", localPath, "status", tx.Status.String())
	}
	d.Workers = survivors
}

func initUploadCommand(wd, basename string, executable bool) string {
	if executable {
		return fmt.Sprintf("mkdir -p %s && cd %s && cat >%s && chmod a+x %s && ./%s",
			quoteShell(wd), quoteShell(wd), quoteShell(basename), quoteShell(basename), quoteShell(basename))
	}
	return fmt.Sprintf("mkdir -p %s && cd %s && cat >%s",
		quoteShell(wd), quoteShell(wd), quoteShell(basename))
}

// CleanupRemote runs the destructive CLEANUP wrapper against every
// surviving worker. Callers gate this behind an explicit opt-in flag.
func (d *Dispatcher) CleanupRemote() {
	if len(d.Workers) == 0 {
		return
	}

	targets := make([]transaction.Target, len(d.Workers))
	cmds := make([]string, len(d.Workers))
	timeouts := make([]time.Duration, len(d.Workers))
	for i, w := range d.Workers {
		targets[i] = w.Target()
		cmds[i] = remoteproto.Cleanup(w.WorkingDir)
		timeouts[i] = w.InitTimeout
	}

	batch := d.Executor.Many(targets, cmds, timeouts, nil, d.Retries, d.Concurrency)
	for i, tx := range batch {
		if tx.Status != types.StatusSuccess {
			log.Warn("remote cleanup failed", "host", d.Workers[i].Hostname, "status", tx.Status.String())
		}
	}
}
