package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	perm := errors.New("permanent")
	err := retry(context.Background(), 5, time.Millisecond, 0, func() error {
		calls++
		return perm
	})
	if !errors.Is(err, perm) || calls != 1 {
		t.Fatalf("expected one call with permanent error, got %d calls, %v", calls, err)
	}
}

func TestRetry_UnwrapsFinalRetryable(t *testing.T) {
	inner := errors.New("flaky")
	err := retry(context.Background(), 2, time.Millisecond, 0, func() error {
		return &retryableError{err: inner}
	})
	if err != inner {
		t.Fatalf("expected inner error, got %v", err)
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := http.Header{}
	if d := retryAfter(h, now); d != 0 {
		t.Errorf("missing header: got %v", d)
	}
	h.Set("Retry-After", "7")
	if d := retryAfter(h, now); d != 7*time.Second {
		t.Errorf("seconds form: got %v", d)
	}
	h.Set("Retry-After", now.Add(3*time.Second).Format(http.TimeFormat))
	if d := retryAfter(h, now); d != 3*time.Second {
		t.Errorf("date form: got %v", d)
	}
}
