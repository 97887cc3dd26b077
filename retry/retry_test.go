package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNop_CallsOnce(t *testing.T) {
	var calls int32
	err := Nop().Do(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("fail")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls=%d want=1", calls)
	}
}

func TestSimple_SucceedsFirstTry(t *testing.T) {
	var calls int32
	r := Simple{Attempts: 5, BaseDelay: time.Nanosecond, MaxDelay: time.Nanosecond}

	err := r.Do(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d want=1", calls)
	}
}

func TestSimple_RetriesUntilSuccess(t *testing.T) {
	var calls int32
	wantCalls := int32(3)

	r := Simple{Attempts: 10, BaseDelay: time.Nanosecond, MaxDelay: time.Nanosecond, Jitter: true}

	err := r.Do(context.Background(), func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) < wantCalls {
			return errors.New("fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if calls != wantCalls {
		t.Fatalf("calls=%d want=%d", calls, wantCalls)
	}
}

func TestSimple_ReturnsLastError(t *testing.T) {
	var calls int32
	r := Simple{Attempts: 4}

	sentinel := errors.New("boom")
	err := r.Do(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("calls=%d want=4", calls)
	}
}

func TestSimple_RespectsContextCancel(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := Simple{Attempts: 10, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	err := r.Do(ctx, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("calls=%d want=0", calls)
	}
}

func TestSimple_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := Simple{Attempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}

	var calls int32
	err := r.Do(ctx, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		cancel()
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d want=1", calls)
	}
}

func BenchmarkSimple_SuccessFirstTry(b *testing.B) {
	r := Simple{Attempts: 5, BaseDelay: time.Nanosecond, MaxDelay: time.Nanosecond}
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = r.Do(ctx, func(ctx context.Context) error { return nil })
	}
}

func BenchmarkSimple_FailAllAttempts_NoSleep(b *testing.B) {
	r := Simple{Attempts: 10}
	ctx := context.Background()
	errFail := errors.New("fail")

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = r.Do(ctx, func(ctx context.Context) error { return errFail })
	}
}

func TestSimple_RetryIfStopsOnRejectedError(t *testing.T) {
	transient := errors.New("throttled")
	fatal := errors.New("queue does not exist")

	for _, tc := range []struct {
		name      string
		r         Simple
		wantCalls int32
	}{
		{"with backoff", Simple{Attempts: 5, BaseDelay: time.Nanosecond, MaxDelay: time.Nanosecond}, 3},
		{"without backoff", Simple{Attempts: 5}, 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			r := tc.r
			r.RetryIf = func(err error) bool { return !errors.Is(err, fatal) }

			err := r.Do(context.Background(), func(ctx context.Context) error {
				if atomic.AddInt32(&calls, 1) < 3 {
					return transient
				}
				return fatal
			})
			if !errors.Is(err, fatal) {
				t.Fatalf("expected fatal error, got %v", err)
			}
			if calls != tc.wantCalls {
				t.Fatalf("calls=%d want=%d", calls, tc.wantCalls)
			}
		})
	}
}
