package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCLIRegistersSubcommands(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd)
	assert.Equal(t, "kssh", cmd.Use)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Use] = true
	}
	assert.True(t, names["dispatch"])
	assert.True(t, names["status"])
}

func TestDispatchCommandDeclaresSpecFlags(t *testing.T) {
	cmd := buildDispatchCommand()

	for _, name := range []string{
		"input", "blocksize", "shuffle", "machines", "task",
		"task-success-code", "distribution-mode", "temp-directory",
		"output", "concurrency", "retries", "init-file", "init-script",
		"cleanup-remote", "metrics-port",
	} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing --%s flag", name)
	}
}

func TestResolveTaskReturnsLiteralForNonexistentPath(t *testing.T) {
	task, err := resolveTask("cat -")
	require.NoError(t, err)
	assert.Equal(t, "cat -", task)
}

func TestResolveTaskReadsFileContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.sh")
	require.NoError(t, os.WriteFile(path, []byte("grep foo\n"), 0644))

	task, err := resolveTask(path)
	require.NoError(t, err)
	assert.Equal(t, "grep foo", task)
}

func TestShowStatusWithoutRunningDispatchDoesNotPanic(t *testing.T) {
	globalDispatcher = nil
	assert.NoError(t, showStatus())
}
