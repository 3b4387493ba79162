// ============================================================================
// kssh-dispatch CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Wires the machines config, block source, local filesystem
// surface, distribution policy, and transaction executor into a
// Dispatcher, and drives it to completion from a cobra command.
//
// Command structure:
//   kssh
//   ├── dispatch             # run one dispatch
//   │   └── --input, --blocksize, --shuffle, --machines, --task,
//   │       --task-success-code, --distribution-mode,
//   │       --temp-directory, --output, --concurrency, --retries,
//   │       --init-file, --init-script, --cleanup-remote,
//   │       --metrics-port
//   └── status               # print the last snapshot of a running dispatch
//
// Signal handling mirrors the teacher's run command: SIGINT/SIGTERM
// cancel the dispatch's context, letting the in-flight scan's batch
// finish before the loop observes cancellation and returns.
//
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kssh-dispatch/dispatch/internal/dispatcher"
	"github.com/kssh-dispatch/dispatch/internal/distribution"
	"github.com/kssh-dispatch/dispatch/internal/localfs"
	"github.com/kssh-dispatch/dispatch/internal/metrics"
	"github.com/kssh-dispatch/dispatch/internal/transaction"
	"github.com/kssh-dispatch/dispatch/pkg/types"
	"github.com/spf13/cobra"
)

var log = slog.Default()

// globalDispatcher is set for the lifetime of a "dispatch" run in this
// process, so a "status" subcommand issued from the same process
// (e.g. a future interactive/daemon mode) can read its snapshot. A
// fresh process invocation of "status" alone has nothing to report,
// the same limitation the teacher's own status command has absent a
// running controller.
var globalDispatcher *dispatcher.Dispatcher

type dispatchFlags struct {
	inputs           []string
	blockSize        int
	shuffle          bool
	machines         string
	task             string
	taskSuccessCode  int
	distributionMode string
	tempDirectory    string
	output           string
	concurrency      int
	retries          int
	initFile         string
	initScript       string
	cleanupRemote    bool
	metricsPort      int
}

// BuildCLI assembles the root command and its subcommands.
func BuildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:     "kssh",
		Short:   "kssh-dispatch: split a bulk workload across remote workers over an opaque shell transport",
		Version: "1.0.0",
	}

	root.AddCommand(buildDispatchCommand())
	root.AddCommand(buildStatusCommand())
	return root
}

func buildDispatchCommand() *cobra.Command {
	var f dispatchFlags

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Split a workload across the configured workers and run it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd.Context(), &f)
		},
	}

	cmd.Flags().StringSliceVar(&f.inputs, "input", nil, "one or more input paths, or \"-\" for stdin")
	cmd.Flags().IntVar(&f.blockSize, "blocksize", 100, "lines per block in lines mode")
	cmd.Flags().BoolVar(&f.shuffle, "shuffle", false, "shuffle input ordering before dispatch")
	cmd.Flags().StringVar(&f.machines, "machines", ".machines", "path to the machines JSON config")
	cmd.Flags().StringVar(&f.task, "task", "cat -", "shell fragment to run on each block, or a path to a file containing one")
	cmd.Flags().IntVar(&f.taskSuccessCode, "task-success-code", 0, "exit code counted as task success")
	cmd.Flags().StringVar(&f.distributionMode, "distribution-mode", "performance", "performance or failover")
	cmd.Flags().StringVar(&f.tempDirectory, "temp-directory", ".", "local temp file root")
	cmd.Flags().StringVar(&f.output, "output", "", "output file or directory; defaults to stdout in lines mode")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 10, "max in-flight transactions")
	cmd.Flags().IntVar(&f.retries, "retries", 2, "per-transaction timeout retry budget")
	cmd.Flags().StringVar(&f.initFile, "init-file", "", "optional file to upload to every worker before dispatch")
	cmd.Flags().StringVar(&f.initScript, "init-script", "", "optional script to upload and run on every worker before dispatch")
	cmd.Flags().BoolVar(&f.cleanupRemote, "cleanup-remote", false, "remove every file in each worker's working directory after dispatch")
	cmd.Flags().IntVar(&f.metricsPort, "metrics-port", 0, "serve Prometheus metrics on this port; 0 disables")
	cmd.MarkFlagRequired("input")

	return cmd
}

func runDispatch(ctx context.Context, f *dispatchFlags) error {
	workers, err := loadMachines(f.machines)
	if err != nil {
		return err
	}
	if len(workers) == 0 {
		return fmt.Errorf("machines config %s has no workers", f.machines)
	}

	task, err := resolveTask(f.task)
	if err != nil {
		return err
	}

	fs, key, err := newLocalFilesystem(f.tempDirectory)
	if err != nil {
		return err
	}
	defer fs.Cleanup()

	source, linesMode, err := resolveSource(f.inputs, f.blockSize, f.shuffle, fs)
	if err != nil {
		return err
	}
	defer source.Close()

	output, err := resolveOutput(f.output, linesMode, key, fs)
	if err != nil {
		return err
	}
	defer output.Close()

	mode := types.DistributionMode(f.distributionMode)
	totalBlocks := 0
	if mode == types.ModeFailover {
		totalBlocks, err = source.Len()
		if err != nil {
			return fmt.Errorf("failover mode requires a source with a known length: %w", err)
		}
	}
	policy, err := distribution.New(mode, totalBlocks)
	if err != nil {
		return err
	}

	d := &dispatcher.Dispatcher{
		Workers:         workers,
		Source:          source,
		Policy:          policy,
		Executor:        transaction.NewExecutor(),
		FS:              fs,
		Output:          output,
		Key:             key,
		Task:            task,
		TaskSuccessCode: f.taskSuccessCode,
		Concurrency:     f.concurrency,
		Retries:         f.retries,
	}

	if f.metricsPort > 0 {
		d.Metrics = metrics.NewCollector()
		go func() {
			log.Info("starting metrics server", "port", f.metricsPort)
			if err := metrics.StartServer(f.metricsPort); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	if f.initFile != "" || f.initScript != "" {
		if err := d.Initialize(f.initFile, f.initScript); err != nil {
			return err
		}
	}

	globalDispatcher = d

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			log.Info("received shutdown signal, finishing in-flight batch before exit")
			cancel()
		case <-runCtx.Done():
		}
	}()

	if err := d.Run(runCtx); err != nil {
		return fmt.Errorf("dispatch failed: %w", err)
	}

	if f.cleanupRemote {
		d.CleanupRemote()
	}
	return nil
}

// resolveTask treats its argument as a literal shell fragment unless it
// names an existing file, in which case the file's contents are used.
func resolveTask(task string) (string, error) {
	info, err := os.Stat(task)
	if err != nil || info.IsDir() {
		return task, nil
	}
	data, err := os.ReadFile(task)
	if err != nil {
		return "", fmt.Errorf("read task file %s: %w", task, err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func newLocalFilesystem(tempDir string) (*localfs.Filesystem, string, error) {
	key, err := localfs.NewKey()
	if err != nil {
		return nil, "", err
	}
	fs, err := localfs.NewFilesystem(tempDir, key)
	if err != nil {
		return nil, "", err
	}
	return fs, key, nil
}

func resolveOutput(path string, linesMode bool, key string, fs *localfs.Filesystem) (localfs.Output, error) {
	if linesMode {
		return localfs.NewLineOutput(path, key, fs)
	}
	if path == "" {
		return nil, fmt.Errorf("files mode requires --output to name a directory")
	}
	return localfs.NewFileOutput(path, fs)
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current state of a running dispatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus()
		},
	}
}

func showStatus() error {
	if globalDispatcher == nil {
		fmt.Println("no dispatch is running in this process")
		return nil
	}

	snap := globalDispatcher.Snapshot()
	fmt.Printf("workers: %d active, %d excluded, %d blocks completed\n", snap.Active, snap.Excluded, snap.Completed)
	for _, w := range snap.Workers {
		fmt.Printf("  %-20s %-16s completed=%-4d errors=%-2d upload=%-8s download=%-8s poll=%-8s interval=%s\n",
			w.Hostname, w.State.String(), w.Completed, w.Errors,
			w.UploadTimeout, w.DownloadTimeout, w.PollTimeout, w.PollInterval)
	}
	return nil
}
