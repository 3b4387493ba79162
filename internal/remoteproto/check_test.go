package remoteproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCheckWhileRunning(t *testing.T) {
	r, err := ParseCheck("1700000000,4821")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), r.Heartbeat)
	assert.Equal(t, "4821", r.Pid)
	assert.False(t, r.Done)
	assert.Nil(t, r.ExitCode)
	assert.Nil(t, r.Size)
}

func TestParseCheckWhenDoneWithExitCodeAndSize(t *testing.T) {
	r, err := ParseCheck("1700000050,Done,0,1024")
	require.NoError(t, err)
	assert.True(t, r.Done)
	require.NotNil(t, r.ExitCode)
	assert.Equal(t, int64(0), *r.ExitCode)
	require.NotNil(t, r.Size)
	assert.Equal(t, int64(1024), *r.Size)
}

func TestParseCheckWhenDoneWithoutSize(t *testing.T) {
	r, err := ParseCheck("1700000050,Done,1")
	require.NoError(t, err)
	assert.True(t, r.Done)
	require.NotNil(t, r.ExitCode)
	assert.Equal(t, int64(1), *r.ExitCode)
	assert.Nil(t, r.Size)
}

func TestParseCheckToleratesMalformedTrailingSize(t *testing.T) {
	r, err := ParseCheck("1700000050,Done,0,not-a-number")
	require.NoError(t, err)
	assert.True(t, r.Done)
	assert.Nil(t, r.Size, "a malformed size is advisory-only and tolerated as absent")
}

func TestParseCheckRejectsMissingHeartbeat(t *testing.T) {
	_, err := ParseCheck("")
	assert.Error(t, err)
}

func TestParseCheckRejectsNonNumericHeartbeat(t *testing.T) {
	_, err := ParseCheck("not-a-number,4821")
	assert.Error(t, err)
}

func TestParseCheckRejectsMalformedExitCode(t *testing.T) {
	_, err := ParseCheck("1700000050,Done,not-a-number")
	assert.Error(t, err)
}

func TestParseCheckRejectsMissingPid(t *testing.T) {
	_, err := ParseCheck("1700000050")
	assert.Error(t, err)
}
