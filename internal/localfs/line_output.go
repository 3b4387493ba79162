package localfs

// ============================================================================
// LineOutput: single append-mode destination file, for lines-mode input.
// ============================================================================

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/kssh-dispatch/dispatch/pkg/types"
)

// LineOutput appends every fetched block's stdout to one destination
// file (or standard output, when path is empty) and streams each
// block's stderr line-by-line into the log, tagged with the worker
// hostname that produced it.
type LineOutput struct {
	mu    sync.Mutex
	dest  *os.File
	owned bool // false when dest is os.Stdout: never closed by us
	temp  tempRemover
}

// NewLineOutput opens the destination for lines mode. path == "" means
// standard output. If path names a directory, the file <key>_result is
// created inside it. An existing destination file is truncated.
func NewLineOutput(path, key string, temp tempRemover) (*LineOutput, error) {
	if path == "" {
		return &LineOutput{dest: os.Stdout, owned: false, temp: temp}, nil
	}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, fmt.Sprintf("%s_result", key))
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file %s: %w", path, err)
	}
	return &LineOutput{dest: f, owned: true, temp: temp}, nil
}

func (o *LineOutput) Write(hostname string, block *types.Block, stdoutTmp, stderrTmp string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.appendStdout(stdoutTmp); err != nil {
		return err
	}
	o.temp.RemoveTemp(stdoutTmp)

	o.streamStderr(hostname, block, stderrTmp)
	o.temp.RemoveTemp(stderrTmp)
	return nil
}

func (o *LineOutput) appendStdout(stdoutTmp string) error {
	in, err := os.Open(stdoutTmp)
	if err != nil {
		return fmt.Errorf("open fetched stdout %s: %w", stdoutTmp, err)
	}
	defer in.Close()

	if _, err := io.Copy(o.dest, in); err != nil {
		return fmt.Errorf("append %s to output: %w", stdoutTmp, err)
	}
	return nil
}

func (o *LineOutput) streamStderr(hostname string, block *types.Block, stderrTmp string) {
	f, err := os.Open(stderrTmp)
	if err != nil {
		log.Warn("open fetched stderr failed", "host", hostname, "path", stderrTmp, "error", err)
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		log.Info(scanner.Text(), "host", hostname, "block", block.Description)
	}
}

func (o *LineOutput) Close() error {
	if !o.owned {
		return nil
	}
	return o.dest.Close()
}
