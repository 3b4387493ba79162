package dispatcher

import (
	"testing"
	"time"

	"github.com/kssh-dispatch/dispatch/internal/transaction"
	"github.com/kssh-dispatch/dispatch/internal/worker"
	"github.com/kssh-dispatch/dispatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartPostSuccessAssignsAndRecordsEstimates(t *testing.T) {
	w := worker.New("h1", "u", "/wd", "ssh")
	src := &fakeSource{}
	d, _ := newTestDispatcher(t, []*worker.Worker{w}, src)

	b := writeBlockFile(t, "hello")
	tx := &transaction.Transaction{Status: types.StatusSuccess, Elapsed: 2 * time.Second, Output: "1700000000"}
	now := time.Now()

	d.startPost(&pending{worker: w, tx: tx, block: b}, now)

	assert.Equal(t, types.StateAssignedRunning, w.State())
	assert.Equal(t, int64(1700000000), w.Start)
	assert.Equal(t, int64(5), w.UploadSize)
	assert.Equal(t, now, w.Polled)
	assert.Empty(t, src.retried)
}

func TestStartPostSuccessBlendsUploadSizeWithPriorEstimate(t *testing.T) {
	w := worker.New("h1", "u", "/wd", "ssh")
	w.UploadSize = 100
	src := &fakeSource{}
	d, _ := newTestDispatcher(t, []*worker.Worker{w}, src)

	b := writeBlockFile(t, "0123456789") // 10 bytes
	tx := &transaction.Transaction{Status: types.StatusSuccess, Output: "1700000000"}

	d.startPost(&pending{worker: w, tx: tx, block: b}, time.Now())

	// WMA(10, 100) = floor(0.75*10 + 0.25*100) = 32
	assert.Equal(t, int64(32), w.UploadSize)
}

func TestStartPostTimeoutDoublesUploadTimeoutAndRetries(t *testing.T) {
	w := worker.New("h1", "u", "/wd", "ssh")
	w.UploadTimeout = 10 * time.Second
	src := &fakeSource{}
	d, _ := newTestDispatcher(t, []*worker.Worker{w}, src)

	b := writeBlockFile(t, "hello")
	tx := &transaction.Transaction{Status: types.StatusTimeout}

	d.startPost(&pending{worker: w, tx: tx, block: b}, time.Now())

	assert.Equal(t, 20*time.Second, w.UploadTimeout)
	assert.Equal(t, types.StateIdle, w.State())
	assert.Equal(t, 1, w.ErrorCount())
	require.Len(t, src.retried, 1)
	assert.Equal(t, b, src.retried[0])
}

func TestStartPostErrorRetriesWithoutDoublingTimeout(t *testing.T) {
	w := worker.New("h1", "u", "/wd", "ssh")
	w.UploadTimeout = 10 * time.Second
	src := &fakeSource{}
	d, _ := newTestDispatcher(t, []*worker.Worker{w}, src)

	b := writeBlockFile(t, "hello")
	tx := &transaction.Transaction{Status: types.StatusError}

	d.startPost(&pending{worker: w, tx: tx, block: b}, time.Now())

	assert.Equal(t, 10*time.Second, w.UploadTimeout)
	require.Len(t, src.retried, 1)
}

func TestCheckPostLivenessUpdatesHeartbeat(t *testing.T) {
	w := worker.New("h1", "u", "/wd", "ssh")
	w.Assign(writeBlockFile(t, "x"))
	d, _ := newTestDispatcher(t, []*worker.Worker{w}, &fakeSource{})

	tx := &transaction.Transaction{Status: types.StatusSuccess, Output: "1700000100,4821"}
	now := time.Now()
	d.checkPost(&pending{worker: w, tx: tx}, now)

	assert.Equal(t, int64(1700000100), w.Heartbeat)
	assert.Equal(t, now, w.Polled)
	assert.Equal(t, types.StateAssignedRunning, w.State())
}

func TestCheckPostSuccessAdaptsPollTimeout(t *testing.T) {
	w := worker.New("h1", "u", "/wd", "ssh")
	w.PollTimeout = 10 * time.Second
	w.Assign(writeBlockFile(t, "x"))
	d, _ := newTestDispatcher(t, []*worker.Worker{w}, &fakeSource{})

	tx := &transaction.Transaction{Status: types.StatusSuccess, Output: "1700000100,4821", Elapsed: 4 * time.Second}
	d.checkPost(&pending{worker: w, tx: tx}, time.Now())

	// WMA(4s*1.5, 10s) = floor(0.75*6 + 0.25*10) = 7s
	assert.Equal(t, 7*time.Second, w.PollTimeout)
}

func TestCheckPostTransactionTimeoutDoublesPollTimeout(t *testing.T) {
	w := worker.New("h1", "u", "/wd", "ssh")
	w.PollTimeout = 10 * time.Second
	w.Assign(writeBlockFile(t, "x"))
	d, _ := newTestDispatcher(t, []*worker.Worker{w}, &fakeSource{})

	tx := &transaction.Transaction{Status: types.StatusTimeout}
	d.checkPost(&pending{worker: w, tx: tx}, time.Now())

	assert.Equal(t, 20*time.Second, w.PollTimeout)
	assert.Equal(t, 1, w.ErrorCount())
}

func TestCheckPostDeadHeartbeatExcludesAfterSixAndRetries(t *testing.T) {
	w := worker.New("h1", "u", "/wd", "ssh")
	b := writeBlockFile(t, "x")
	w.Assign(b)
	src := &fakeSource{}
	d, _ := newTestDispatcher(t, []*worker.Worker{w}, src)

	tx := &transaction.Transaction{Status: types.StatusSuccess, Output: "1700000100,4821"}
	// First call establishes the heartbeat baseline.
	d.checkPost(&pending{worker: w, tx: tx}, time.Now())

	// Five more identical heartbeats: unchanged, but not yet excluded.
	for i := 0; i < 5; i++ {
		d.checkPost(&pending{worker: w, tx: tx}, time.Now())
		assert.False(t, w.Excluded())
		assert.Equal(t, types.StateAssignedRunning, w.State())
	}

	// The sixth identical heartbeat excludes and releases the block.
	d.checkPost(&pending{worker: w, tx: tx}, time.Now())
	assert.True(t, w.Excluded())
	require.Len(t, src.retried, 1)
	assert.Equal(t, b, src.retried[0])
}

func TestCheckPostTransactionFailureIsDeadHeartbeat(t *testing.T) {
	w := worker.New("h1", "u", "/wd", "ssh")
	w.Assign(writeBlockFile(t, "x"))
	d, _ := newTestDispatcher(t, []*worker.Worker{w}, &fakeSource{})

	tx := &transaction.Transaction{Status: types.StatusTimeout}
	d.checkPost(&pending{worker: w, tx: tx}, time.Now())

	assert.Equal(t, 1, w.ErrorCount())
	assert.Equal(t, types.StateAssignedRunning, w.State())
}

func TestCheckPostMalformedOutputIsDeadHeartbeat(t *testing.T) {
	w := worker.New("h1", "u", "/wd", "ssh")
	w.Assign(writeBlockFile(t, "x"))
	d, _ := newTestDispatcher(t, []*worker.Worker{w}, &fakeSource{})

	tx := &transaction.Transaction{Status: types.StatusSuccess, Output: "not-a-csv-line"}
	d.checkPost(&pending{worker: w, tx: tx}, time.Now())

	assert.Equal(t, 1, w.ErrorCount())
}

func TestCheckPostDoneWithCorrectExitCodeMarksDoneAndUpdatesPollInterval(t *testing.T) {
	w := worker.New("h1", "u", "/wd", "ssh")
	w.PollInterval = 5 * time.Second
	w.Start = 1700000000
	w.Assign(writeBlockFile(t, "x"))
	d, _ := newTestDispatcher(t, []*worker.Worker{w}, &fakeSource{})
	d.TaskSuccessCode = 0

	tx := &transaction.Transaction{Status: types.StatusSuccess, Output: "1700000040,Done,0,1024"}
	d.checkPost(&pending{worker: w, tx: tx}, time.Now())

	assert.True(t, w.Done)
	assert.Equal(t, int64(1024), w.RemoteSize)
	assert.Equal(t, types.StateAssignedDone, w.State())
	assert.True(t, w.Polled.IsZero())
	// target = (40s)*1.1/4 = 11s; WMA(11s, 5s) = floor(0.75*11 + 0.25*5) = 9s
	assert.Equal(t, 9*time.Second, w.PollInterval)
}

func TestCheckPostDoneWithWrongExitCodeRetriesBlock(t *testing.T) {
	w := worker.New("h1", "u", "/wd", "ssh")
	b := writeBlockFile(t, "x")
	w.Assign(b)
	src := &fakeSource{}
	d, _ := newTestDispatcher(t, []*worker.Worker{w}, src)
	d.TaskSuccessCode = 0

	tx := &transaction.Transaction{Status: types.StatusSuccess, Output: "1700000040,Done,7,1024"}
	d.checkPost(&pending{worker: w, tx: tx}, time.Now())

	assert.Equal(t, types.StateIdle, w.State())
	assert.Equal(t, 1, w.ErrorCount())
	require.Len(t, src.retried, 1)
	assert.Equal(t, b, src.retried[0])
}

func TestFetchPostSuccessWritesCompletesAndReleases(t *testing.T) {
	w := worker.New("h1", "u", "/wd", "ssh")
	b := writeBlockFile(t, "x")
	w.Assign(b)
	w.Done = true
	src := &fakeSource{}
	out := &fakeOutput{}
	d, fs := newTestDispatcher(t, []*worker.Worker{w}, src)
	d.Output = out

	stdoutTmp := writeTempFile(t, "hello world")
	stderrTmp := writeTempFile(t, "")
	tx := &transaction.Transaction{Status: types.StatusSuccess, Elapsed: 500 * time.Millisecond}

	d.fetchPost(&pending{worker: w, tx: tx, stdoutTmp: stdoutTmp, stderrTmp: stderrTmp}, time.Now())

	assert.Equal(t, 1, out.writes)
	assert.Equal(t, 1, w.Completed)
	assert.Equal(t, types.StateIdle, w.State())
	require.Len(t, src.done, 1)
	assert.Equal(t, b, src.done[0])
	assert.Equal(t, int64(len("hello world")), w.DownloadSize)
	_ = fs
}

func TestFetchPostTimeoutDoublesDownloadTimeoutAndRetries(t *testing.T) {
	w := worker.New("h1", "u", "/wd", "ssh")
	w.DownloadTimeout = 10 * time.Second
	b := writeBlockFile(t, "x")
	w.Assign(b)
	w.Done = true
	src := &fakeSource{}
	d, fs := newTestDispatcher(t, []*worker.Worker{w}, src)

	stdoutTmp, err := fs.CreateTemp()
	require.NoError(t, err)
	stderrTmp, err := fs.CreateTemp()
	require.NoError(t, err)

	tx := &transaction.Transaction{Status: types.StatusTimeout}
	d.fetchPost(&pending{worker: w, tx: tx, stdoutTmp: stdoutTmp, stderrTmp: stderrTmp}, time.Now())

	assert.Equal(t, 20*time.Second, w.DownloadTimeout)
	assert.Equal(t, types.StateIdle, w.State())
	require.Len(t, src.retried, 1)
	assert.Equal(t, b, src.retried[0])
}

func TestResetErrorsAfterSuccessfulFetchClearsErrorBudget(t *testing.T) {
	w := worker.New("h1", "u", "/wd", "ssh")
	w.Error()
	w.Error()
	b := writeBlockFile(t, "x")
	w.Assign(b)
	w.Done = true
	d, _ := newTestDispatcher(t, []*worker.Worker{w}, &fakeSource{})

	stdoutTmp := writeTempFile(t, "x")
	stderrTmp := writeTempFile(t, "")
	tx := &transaction.Transaction{Status: types.StatusSuccess}
	d.fetchPost(&pending{worker: w, tx: tx, stdoutTmp: stdoutTmp, stderrTmp: stderrTmp}, time.Now())

	assert.Equal(t, 0, w.ErrorCount())
}
