package sync

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFastRetryingSession mirrors NewRetryingSession but with millisecond
// delays, so these tests don't pay the production backoff schedule.
func newFastRetryingSession(inner RemoteSession) *RetryingSession {
	r := NewRetryingSession(inner)
	r.baseDelay = time.Millisecond
	r.maxDelay = time.Millisecond
	return r
}

// flakyInnerSession fails the first failCount calls to whichever method is
// under test, then behaves like a normal in-memory RemoteSession — enough to
// prove RetryingSession actually retries instead of just decorating.
type flakyInnerSession struct {
	failCount    int
	execCalls    int
	uploadCalls  int
	downloadCalls int
	reconnects   int
	store        map[string][]byte
}

func newFlakyInnerSession(failCount int) *flakyInnerSession {
	return &flakyInnerSession{failCount: failCount, store: map[string][]byte{}}
}

func (f *flakyInnerSession) Exec(command string) ([]byte, []byte, int, error) {
	f.execCalls++
	if f.execCalls <= f.failCount {
		return nil, nil, 0, errors.New("transient exec failure")
	}
	return []byte("ok"), nil, 0, nil
}

func (f *flakyInnerSession) Upload(src io.Reader, remotePath string) error {
	f.uploadCalls++
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	if f.uploadCalls <= f.failCount {
		return errors.New("transient upload failure")
	}
	f.store[remotePath] = data
	return nil
}

func (f *flakyInnerSession) Download(remotePath string, w io.Writer) error {
	f.downloadCalls++
	if f.downloadCalls <= f.failCount {
		// A failed attempt must not write anything real to w — mimics a
		// session that dies mid-stream before any bytes reach the caller.
		return errors.New("transient download failure")
	}
	_, err := w.Write(f.store[remotePath])
	return err
}

func (f *flakyInnerSession) Exists(remotePath string) (bool, error) {
	_, ok := f.store[remotePath]
	return ok, nil
}

func (f *flakyInnerSession) Remove(remotePath string) error {
	delete(f.store, remotePath)
	return nil
}

func (f *flakyInnerSession) Heartbeat() error { return nil }
func (f *flakyInnerSession) Reconnect() error { f.reconnects++; return nil }

func TestRetryingSession_ExecRetriesThenSucceeds(t *testing.T) {
	inner := newFlakyInnerSession(1)
	r := newFastRetryingSession(inner)

	stdout, _, exitCode, err := r.Exec("whatever")
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode)
	assert.Equal(t, "ok", string(stdout))
	assert.Equal(t, 2, inner.execCalls, "should have retried once before succeeding on the second attempt")
	assert.Equal(t, 1, inner.reconnects, "should reconnect once between the failed attempt and the retry")
}

func TestRetryingSession_ExecExhaustsBudgetReturnsFatal(t *testing.T) {
	inner := newFlakyInnerSession(retryMaxAttempts)
	r := newFastRetryingSession(inner)

	_, _, _, err := r.Exec("whatever")
	require.Error(t, err)
	var fatal *FatalTransportError
	assert.True(t, errors.As(err, &fatal), "exhausting the retry budget must escalate to FatalTransportError")
}

func TestRetryingSession_UploadReplaysBufferedBytesOnRetry(t *testing.T) {
	inner := newFlakyInnerSession(1)
	r := newFastRetryingSession(inner)

	err := r.Upload(bytes.NewReader([]byte("payload")), "/remote/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(inner.store["/remote/file.txt"]), "the retried attempt must see the full original payload, not a partially-consumed reader")
}

func TestRetryingSession_DownloadDoesNotLeavePartialDataOnFailedAttempt(t *testing.T) {
	inner := newFlakyInnerSession(1)
	inner.store["/remote/file.txt"] = []byte("full contents")
	r := newFastRetryingSession(inner)

	var dst bytes.Buffer
	err := r.Download("/remote/file.txt", &dst)
	require.NoError(t, err)
	assert.Equal(t, "full contents", dst.String(), "w must only ever receive the complete successful attempt's bytes")
}
