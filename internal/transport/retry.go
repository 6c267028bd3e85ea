package transport

import (
	"log/slog"
	"time"
)

// Retry calls fn up to maxAttempts times, doubling delay from baseDelay up
// to maxDelay between attempts. retriable decides whether a given failure is
// worth retrying at all; a non-retriable error returns immediately. When a
// retriable error survives the attempt budget, it is wrapped in a
// FatalTransportError by the caller — Retry itself just returns the last
// error it saw.
func Retry(label string, maxAttempts int, baseDelay, maxDelay time.Duration, reconnect func() error, retriable func(error) bool, fn func() error) error {
	delay := baseDelay
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if retriable != nil && !retriable(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		slog.Warn("remote operation failed, retrying", "op", label, "attempt", attempt, "maxAttempts", maxAttempts, "error", err, "delay", delay)
		time.Sleep(delay)

		if reconnect != nil {
			if rerr := reconnect(); rerr != nil {
				slog.Warn("reconnect attempt failed", "op", label, "error", rerr)
			}
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	return lastErr
}
