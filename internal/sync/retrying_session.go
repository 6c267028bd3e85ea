package sync

import (
	"bytes"
	"io"
	"time"

	"github.com/driftsync/driftsync/internal/transport"
)

const (
	retryMaxAttempts = 5
	retryBaseDelay   = 2 * time.Second
	retryMaxDelay    = 30 * time.Second
)

// RetryingSession decorates a RemoteSession so a single dropped packet
// doesn't abort a long-running session: every call retries with exponential
// backoff and reconnects the underlying connection between attempts, per
// the transport package's retry helper. The final failure after the attempt
// budget is exhausted is wrapped in a TransportError and escalated to a
// FatalTransportError, matching the taxonomy the rest of the engine already
// expects to see out of a remote call.
type RetryingSession struct {
	inner RemoteSession

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewRetryingSession wraps inner so the orchestrator and everything it
// constructs (the executor, the remote scanner) talk to a self-healing
// session without any of them needing to know about retries themselves.
func NewRetryingSession(inner RemoteSession) *RetryingSession {
	return &RetryingSession{
		inner:       inner,
		maxAttempts: retryMaxAttempts,
		baseDelay:   retryBaseDelay,
		maxDelay:    retryMaxDelay,
	}
}

func (r *RetryingSession) retry(label string, fn func() error) error {
	err := transport.Retry(label, r.maxAttempts, r.baseDelay, r.maxDelay, r.inner.Reconnect, nil, fn)
	if err != nil {
		return &FatalTransportError{Err: &TransportError{Op: label, Err: err}}
	}
	return nil
}

func (r *RetryingSession) Exec(command string) (stdout, stderr []byte, exitCode int, err error) {
	err = r.retry("exec", func() error {
		var innerErr error
		stdout, stderr, exitCode, innerErr = r.inner.Exec(command)
		return innerErr
	})
	return
}

// Upload reads src fully before the first attempt so a retry can replay the
// same bytes against a freshly reconnected session — src itself may not be
// seekable, and a partially-consumed reader can't safely be handed to a
// second attempt.
func (r *RetryingSession) Upload(src io.Reader, remotePath string) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return &LocalError{Path: remotePath, Err: err}
	}
	return r.retry("upload "+remotePath, func() error {
		return r.inner.Upload(bytes.NewReader(data), remotePath)
	})
}

// Download buffers each attempt in memory and only copies into w once an
// attempt succeeds in full, so a failed mid-transfer attempt never leaves w
// holding a partial, corrupt prefix that a retry would then append to.
func (r *RetryingSession) Download(remotePath string, w io.Writer) error {
	var buf bytes.Buffer
	err := r.retry("download "+remotePath, func() error {
		buf.Reset()
		return r.inner.Download(remotePath, &buf)
	})
	if err != nil {
		return err
	}
	_, werr := w.Write(buf.Bytes())
	return werr
}

func (r *RetryingSession) Exists(remotePath string) (bool, error) {
	var exists bool
	err := r.retry("exists "+remotePath, func() error {
		var innerErr error
		exists, innerErr = r.inner.Exists(remotePath)
		return innerErr
	})
	return exists, err
}

func (r *RetryingSession) Remove(remotePath string) error {
	return r.retry("remove "+remotePath, func() error {
		return r.inner.Remove(remotePath)
	})
}

func (r *RetryingSession) Heartbeat() error {
	return r.inner.Heartbeat()
}

func (r *RetryingSession) Reconnect() error {
	return r.inner.Reconnect()
}
