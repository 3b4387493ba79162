package block

// ============================================================================
// FileSource: one Block per whole input file, in order.
// ============================================================================

import (
	"fmt"

	"github.com/kssh-dispatch/dispatch/pkg/types"
)

// FileSource yields one Block per path in the order given. Each block's
// input file is the source file itself; Done is a no-op (the caller's
// file, not ours, to delete).
type FileSource struct {
	retryQueue
	paths []string
	next  int
}

// NewFileSource builds a FileSource over an ordered list of local paths.
func NewFileSource(paths []string) *FileSource {
	return &FileSource{paths: paths}
}

func (s *FileSource) HasMore() bool {
	return s.retryQueue.len() > 0 || s.next < len(s.paths)
}

func (s *FileSource) Next() (*types.Block, error) {
	if b := s.retryQueue.pop(); b != nil {
		return b, nil
	}
	if s.next >= len(s.paths) {
		return nil, ErrExhausted
	}
	path := s.paths[s.next]
	s.next++
	return &types.Block{
		Path:        path,
		Description: fmt.Sprintf("file %s", path),
	}, nil
}

func (s *FileSource) Retry(b *types.Block) {
	s.retryQueue.push(b)
}

// Done is a no-op in file mode: the block's backing file is the user's
// own input file, not a temp file this source owns.
func (s *FileSource) Done(b *types.Block) error {
	return nil
}

func (s *FileSource) Close() error {
	return nil
}

func (s *FileSource) Len() (int, error) {
	return len(s.paths), nil
}
