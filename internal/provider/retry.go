package provider

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// retryableError marks a failure worth another attempt. after, when set,
// is the server-requested wait.
type retryableError struct {
	err   error
	after time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// retry executes fn up to maxAttempts times with jittered exponential backoff.
// Only retryableError failures are retried. A server-provided Retry-After
// replaces the computed delay, bounded by maxWait.
func retry(ctx context.Context, maxAttempts int, baseDelay, maxWait time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var re *retryableError
		if !errors.As(lastErr, &re) {
			return lastErr
		}
		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}

		wait := delay
		if delay > 1 {
			wait += time.Duration(rand.Int63n(int64(delay / 2)))
		}
		if re.after > 0 {
			wait = re.after
		}
		if maxWait > 0 && wait > maxWait {
			wait = maxWait
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return lastErr
		case <-t.C:
		}
		delay *= 2
	}
	var re *retryableError
	if errors.As(lastErr, &re) {
		return re.err
	}
	return lastErr
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
