package localfs

// ============================================================================
// FileOutput: per-input-file destination, for files-mode input.
// ============================================================================

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kssh-dispatch/dispatch/pkg/types"
)

// FileOutput renames each fetched block's stdout into a file named
// after the block's input file, disambiguating collisions with a
// numeric suffix, and logs+reclaims the stderr temp file.
type FileOutput struct {
	mu  sync.Mutex
	dir string

	used map[string]bool
	temp tempRemover
}

// NewFileOutput scopes output to dir, which must already exist as a
// directory (or be creatable as one).
func NewFileOutput(dir string, temp tempRemover) (*FileOutput, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", dir, err)
	}
	return &FileOutput{dir: dir, used: make(map[string]bool), temp: temp}, nil
}

func (o *FileOutput) Write(hostname string, block *types.Block, stdoutTmp, stderrTmp string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	target := o.reserveTarget(filepath.Base(block.Path))
	if err := os.Rename(stdoutTmp, target); err != nil {
		return fmt.Errorf("move fetched output to %s: %w", target, err)
	}
	log.Info("wrote block output", "host", hostname, "block", block.Description, "path", target)

	o.logAndRemoveStderr(hostname, block, stderrTmp)
	return nil
}

// reserveTarget picks <dir>/<base>.out, or <dir>/<base>.outN on
// collision with an already-claimed name, and marks it claimed.
func (o *FileOutput) reserveTarget(base string) string {
	name := base + ".out"
	for n := 1; o.used[name]; n++ {
		name = fmt.Sprintf("%s.out%d", base, n)
	}
	o.used[name] = true
	return filepath.Join(o.dir, name)
}

func (o *FileOutput) logAndRemoveStderr(hostname string, block *types.Block, stderrTmp string) {
	f, err := os.Open(stderrTmp)
	if err != nil {
		log.Warn("open fetched stderr failed", "host", hostname, "path", stderrTmp, "error", err)
		o.temp.RemoveTemp(stderrTmp)
		return
	}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		log.Info(scanner.Text(), "host", hostname, "block", block.Description)
	}
	f.Close()
	o.temp.RemoveTemp(stderrTmp)
}

func (o *FileOutput) Close() error {
	return nil
}
