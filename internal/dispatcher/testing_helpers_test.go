package dispatcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kssh-dispatch/dispatch/internal/block"
	"github.com/kssh-dispatch/dispatch/internal/distribution"
	"github.com/kssh-dispatch/dispatch/internal/localfs"
	"github.com/kssh-dispatch/dispatch/internal/transaction"
	"github.com/kssh-dispatch/dispatch/internal/worker"
	"github.com/kssh-dispatch/dispatch/pkg/types"
	"github.com/stretchr/testify/require"
)

// fakeSource is a minimal, in-memory block.Source for exercising
// decide() and the callbacks without a real line/file source.
type fakeSource struct {
	blocks  []*types.Block
	idx     int
	retried []*types.Block
	done    []*types.Block
	lenVal  int
	lenErr  error
}

func (s *fakeSource) HasMore() bool {
	return len(s.retried) > 0 || s.idx < len(s.blocks)
}

func (s *fakeSource) Next() (*types.Block, error) {
	if len(s.retried) > 0 {
		b := s.retried[0]
		s.retried = s.retried[1:]
		return b, nil
	}
	if s.idx >= len(s.blocks) {
		return nil, block.ErrExhausted
	}
	b := s.blocks[s.idx]
	s.idx++
	return b, nil
}

func (s *fakeSource) Retry(b *types.Block) { s.retried = append(s.retried, b) }
func (s *fakeSource) Done(b *types.Block) error {
	s.done = append(s.done, b)
	return nil
}
func (s *fakeSource) Close() error        { return nil }
func (s *fakeSource) Len() (int, error)    { return s.lenVal, s.lenErr }

// fakeOutput is a minimal localfs.Output recording what it was asked
// to write, without touching the destination filesystem at all.
type fakeOutput struct {
	writes     int
	lastStdout string
}

func (o *fakeOutput) Write(hostname string, b *types.Block, stdoutTmp, stderrTmp string) error {
	o.writes++
	o.lastStdout = stdoutTmp
	return nil
}
func (o *fakeOutput) Close() error { return nil }

func newTestDispatcher(t *testing.T, workers []*worker.Worker, src block.Source) (*Dispatcher, *localfs.Filesystem) {
	fs, err := localfs.NewFilesystem(t.TempDir(), "deadbeef")
	require.NoError(t, err)

	return &Dispatcher{
		Workers:         workers,
		Source:          src,
		Policy:          &distribution.Performance{},
		Executor:        transaction.NewExecutor(),
		FS:              fs,
		Output:          &fakeOutput{},
		Key:             "deadbeef",
		Task:            "cat -",
		TaskSuccessCode: 0,
		Concurrency:     4,
		Retries:         0,
	}, fs
}

func writeBlockFile(t *testing.T, content string) *types.Block {
	path := filepath.Join(t.TempDir(), "block")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return &types.Block{Path: path, Description: "test block"}
}

func writeTempFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "temp")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
