package raapi

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"retrotrack/pkg/logx"
)

func fastBudget(t *testing.T, maxRetries int) *Budget {
	t.Helper()
	b := NewBudget(BudgetConfig{
		RequestsPerInterval: 1,
		Interval:            time.Millisecond,
		MaxRetries:          maxRetries,
		RetryDelay:          time.Millisecond,
		QueueSize:           16,
	}, logx.Nop(), nil)
	b.Start(context.Background())
	t.Cleanup(b.Stop)
	return b
}

func TestBudgetExecutesInOrder(t *testing.T) {
	b := fastBudget(t, 1)

	var calls atomic.Int32
	for i := 0; i < 3; i++ {
		if err := b.Do(context.Background(), "ok", func(ctx context.Context) error {
			calls.Add(1)
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestBudgetRetriesTransientThenSucceeds(t *testing.T) {
	b := fastBudget(t, 3)

	var attempts atomic.Int32
	err := b.Do(context.Background(), "flaky", func(ctx context.Context) error {
		if attempts.Add(1) < 3 {
			return &Error{Kind: KindTransient, Endpoint: "x", Err: errors.New("blip")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v, want nil after retries", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("attempts = %d, want 3", attempts.Load())
	}
}

func TestBudgetDoesNotRetryPermanent(t *testing.T) {
	b := fastBudget(t, 3)

	var attempts atomic.Int32
	wantErr := &Error{Kind: KindPermanent, Endpoint: "x", Status: 401, Err: errors.New("bad key")}
	err := b.Do(context.Background(), "auth", func(ctx context.Context) error {
		attempts.Add(1)
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if attempts.Load() != 1 {
		t.Fatalf("attempts = %d, want 1 (permanent errors never retry)", attempts.Load())
	}
}

func TestBudgetDoesNotRetryNotFound(t *testing.T) {
	b := fastBudget(t, 3)

	var attempts atomic.Int32
	err := b.Do(context.Background(), "missing", func(ctx context.Context) error {
		attempts.Add(1)
		return &Error{Kind: KindNotFound, Endpoint: "x", Status: 404, Err: errors.New("gone")}
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound match", err)
	}
	if attempts.Load() != 1 {
		t.Fatalf("attempts = %d, want 1", attempts.Load())
	}
}

func TestBudgetExhaustsRetries(t *testing.T) {
	b := fastBudget(t, 2)

	var attempts atomic.Int32
	err := b.Do(context.Background(), "down", func(ctx context.Context) error {
		attempts.Add(1)
		return &Error{Kind: KindRateLimited, Endpoint: "x", Status: 429, Err: errors.New("slow down")}
	})
	if err == nil {
		t.Fatal("want final error after exhausting retries")
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3 (1 + 2 retries)", got)
	}
}

func TestBudgetPacesReleases(t *testing.T) {
	b := NewBudget(BudgetConfig{
		RequestsPerInterval: 1,
		Interval:            50 * time.Millisecond,
		MaxRetries:          1,
		RetryDelay:          time.Millisecond,
		QueueSize:           16,
	}, logx.Nop(), nil)
	b.Start(context.Background())
	t.Cleanup(b.Stop)

	// Concurrent callers must still be released one per interval. The first
	// release may be immediate (burst 1), so 4 calls cost at least 3 intervals.
	start := time.Now()
	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			done <- b.Do(context.Background(), "paced", func(ctx context.Context) error { return nil })
		}()
	}
	for i := 0; i < 4; i++ {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 140*time.Millisecond {
		t.Fatalf("4 calls finished in %v, faster than the rate ceiling allows", elapsed)
	}
}

func TestBudgetDoBeforeStart(t *testing.T) {
	b := NewBudget(BudgetConfig{}, logx.Nop(), nil)
	err := b.Do(context.Background(), "x", func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrBudgetStopped) {
		t.Fatalf("err = %v, want ErrBudgetStopped", err)
	}
}

func TestBudgetStartIdempotent(t *testing.T) {
	b := fastBudget(t, 1)
	b.Start(context.Background()) // second Start must be a no-op
	if err := b.Do(context.Background(), "x", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
}
