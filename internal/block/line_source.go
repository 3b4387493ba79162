package block

// ============================================================================
// LineSource: blocksize-line groups materialized into fresh temp files.
// ============================================================================

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"os"

	"github.com/kssh-dispatch/dispatch/pkg/types"
)

// TempAllocator is the minimal temp-file contract LineSource needs from
// the local filesystem surface: a fresh path to materialize a block
// into, and a way to tell the surface the path is no longer owned by
// this source once the block has been fetched.
type TempAllocator interface {
	CreateTemp() (string, error)
	RemoveTemp(path string)
}

// LineSource yields blocks of up to blockSize lines each, newline
// preserved, materialized into fresh temp files as they're produced.
// The final block may be short.
type LineSource struct {
	retryQueue
	reader    *bufio.Reader
	closer    io.Closer
	path      string // empty when backed by a non-seekable stream (stdin)
	blockSize int
	temp      TempAllocator

	lineNo    int
	exhausted bool
}

// NewLineSource wraps r (already positioned at the start of input) into
// a block-producing source. path is used only by Len, to support
// re-opening the file for an exact count; pass "" for stdin-backed
// sources, which makes Len reject the call per spec.
func NewLineSource(r io.Reader, closer io.Closer, path string, blockSize int, temp TempAllocator) *LineSource {
	return &LineSource{
		reader:    bufio.NewReader(r),
		closer:    closer,
		path:      path,
		blockSize: blockSize,
		temp:      temp,
	}
}

func (s *LineSource) HasMore() bool {
	return s.retryQueue.len() > 0 || !s.exhausted
}

func (s *LineSource) Next() (*types.Block, error) {
	if b := s.retryQueue.pop(); b != nil {
		return b, nil
	}
	if s.exhausted {
		return nil, ErrExhausted
	}

	tmpPath, err := s.temp.CreateTemp()
	if err != nil {
		return nil, fmt.Errorf("create temp block file: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("open temp block file %s: %w", tmpPath, err)
	}
	defer f.Close()

	startLine := s.lineNo
	count := 0
	for count < s.blockSize {
		line, readErr := s.reader.ReadString('\n')
		if len(line) > 0 {
			if _, werr := f.WriteString(line); werr != nil {
				return nil, fmt.Errorf("write block file %s: %w", tmpPath, werr)
			}
			count++
			s.lineNo++
		}
		if readErr != nil {
			if readErr == io.EOF {
				s.exhausted = true
				break
			}
			return nil, fmt.Errorf("read input: %w", readErr)
		}
	}

	if count == 0 {
		s.temp.RemoveTemp(tmpPath)
		return nil, ErrExhausted
	}

	return &types.Block{
		Path:        tmpPath,
		Description: fmt.Sprintf("lines [%d,%d)", startLine, startLine+count),
	}, nil
}

func (s *LineSource) Retry(b *types.Block) {
	s.retryQueue.push(b)
}

// Done removes the block's temp file, since this source materialized it
// and no one else holds a reference to it once fetched.
func (s *LineSource) Done(b *types.Block) error {
	s.temp.RemoveTemp(b.Path)
	return nil
}

func (s *LineSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Len counts lines by reopening the backing path; rejects stdin-backed
// sources, which have no path to reopen.
func (s *LineSource) Len() (int, error) {
	if s.path == "" {
		return 0, ErrLenUnsupported
	}
	f, err := os.Open(s.path)
	if err != nil {
		return 0, fmt.Errorf("open %s for length count: %w", s.path, err)
	}
	defer f.Close()

	blockSize := s.blockSize
	if blockSize <= 0 {
		blockSize = 1
	}
	lines := 0
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			lines++
		}
		if err != nil {
			break
		}
	}
	if lines == 0 {
		return 0, nil
	}
	return (lines + blockSize - 1) / blockSize, nil
}

// ShuffleLinesToTemp reads every line from r, shuffles their order, and
// spills the result to a fresh temp file, returning its path. Used by
// --shuffle in line mode; files mode shuffles the path list directly
// and never calls this.
func ShuffleLinesToTemp(r io.Reader, temp TempAllocator) (string, error) {
	scanner := bufio.NewReader(r)
	var lines []string
	for {
		line, err := scanner.ReadString('\n')
		if len(line) > 0 {
			lines = append(lines, line)
		}
		if err != nil {
			break
		}
	}

	rand.Shuffle(len(lines), func(i, j int) {
		lines[i], lines[j] = lines[j], lines[i]
	})

	path, err := temp.CreateTemp()
	if err != nil {
		return "", fmt.Errorf("create shuffle temp file: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("open shuffle temp file %s: %w", path, err)
	}
	defer f.Close()

	for _, line := range lines {
		if _, err := f.WriteString(line); err != nil {
			return "", fmt.Errorf("write shuffle temp file %s: %w", path, err)
		}
	}
	return path, nil
}
