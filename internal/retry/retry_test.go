package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chainpulse/console/internal/apperr"
)

func fastConfig(attempts int, exponential bool) Config {
	return Config{MaxAttempts: attempts, BaseDelay: time.Millisecond, Exponential: exponential}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	out, err := Do(context.Background(), fastConfig(3, true), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection refused")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" {
		t.Fatalf("unexpected output: %q", out)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDo_NeverRetriesOperationalErrors(t *testing.T) {
	calls := 0
	opErr := apperr.NewLimitError("API key", 5)
	_, err := Do(context.Background(), fastConfig(5, false), func(ctx context.Context) (int, error) {
		calls++
		return 0, opErr
	})
	if !errors.Is(err, opErr) {
		t.Fatalf("expected the operational error back, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("operational errors must not be retried, got %d attempts", calls)
	}
}

func TestDo_ExhaustionReturnsLastError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(3, false), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("attempt " + string(rune('0'+calls)))
	})
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if err == nil || err.Error() != "attempt 3" {
		t.Fatalf("expected last error, got %v", err)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, Config{MaxAttempts: 3, BaseDelay: time.Minute}, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt before the cancelled wait, got %d", calls)
	}
}

func TestBackoff(t *testing.T) {
	exp := Config{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Exponential: true}
	fixed := Config{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond}

	tests := []struct {
		cfg     Config
		attempt int
		want    time.Duration
	}{
		{exp, 2, 100 * time.Millisecond},
		{exp, 3, 200 * time.Millisecond},
		{exp, 4, 400 * time.Millisecond},
		{fixed, 2, 100 * time.Millisecond},
		{fixed, 4, 100 * time.Millisecond},
	}
	for _, tc := range tests {
		if got := Backoff(tc.cfg, tc.attempt); got != tc.want {
			t.Errorf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}

	capped := Config{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 2 * time.Second, Exponential: true}
	if got := Backoff(capped, 6); got != 2*time.Second {
		t.Errorf("expected capped delay, got %v", got)
	}
}
