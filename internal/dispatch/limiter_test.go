package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLimiter_Basic(t *testing.T) {
	l := NewLimiter(LimiterConfig{MaxConcurrent: 2})
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if got := l.Stats().Active; got != 2 {
		t.Errorf("Active = %d, want 2", got)
	}

	l.Release()
	l.Release()
	if got := l.Stats().Active; got != 0 {
		t.Errorf("Active = %d, want 0", got)
	}
	if got := l.Stats().TotalAcquired; got != 2 {
		t.Errorf("TotalAcquired = %d, want 2", got)
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(LimiterConfig{})
	for i := 0; i < 100; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	if got := l.Stats().Active; got != 100 {
		t.Errorf("Active = %d, want 100", got)
	}
}

func TestLimiter_AcquireTimeout(t *testing.T) {
	l := NewLimiter(LimiterConfig{MaxConcurrent: 1, AcquireTimeout: 20 * time.Millisecond})
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if err := l.Acquire(context.Background()); err != ErrAcquireTimeout {
		t.Errorf("Acquire() error = %v, want ErrAcquireTimeout", err)
	}
	if got := l.Stats().TotalTimeouts; got != 1 {
		t.Errorf("TotalTimeouts = %d, want 1", got)
	}
}

func TestLimiter_ContextCancel(t *testing.T) {
	l := NewLimiter(LimiterConfig{MaxConcurrent: 1})
	_ = l.Acquire(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err != context.DeadlineExceeded {
		t.Errorf("Acquire() error = %v, want DeadlineExceeded", err)
	}
}

func TestLimiter_QueueFull(t *testing.T) {
	l := NewLimiter(LimiterConfig{MaxConcurrent: 1, QueueSize: 1})
	_ = l.Acquire(context.Background())

	waiterIn := make(chan error, 1)
	go func() { waiterIn <- l.Acquire(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for l.Stats().Waiting != 1 {
		if time.Now().After(deadline) {
			t.Fatal("waiter never queued")
		}
		time.Sleep(time.Millisecond)
	}

	if err := l.Acquire(context.Background()); err != ErrQueueFull {
		t.Errorf("Acquire() error = %v, want ErrQueueFull", err)
	}
	if got := l.Stats().TotalRejected; got != 1 {
		t.Errorf("TotalRejected = %d, want 1", got)
	}

	l.Release()
	if err := <-waiterIn; err != nil {
		t.Errorf("queued Acquire() error = %v", err)
	}
}

func TestLimiter_Close(t *testing.T) {
	l := NewLimiter(LimiterConfig{MaxConcurrent: 1})
	_ = l.Acquire(context.Background())

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Acquire(context.Background())
		}()
	}
	time.Sleep(10 * time.Millisecond)
	l.Close()
	l.Close()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != ErrLimiterClosed {
			t.Errorf("Acquire() error = %v, want ErrLimiterClosed", err)
		}
	}
	if err := l.Acquire(context.Background()); err != ErrLimiterClosed {
		t.Errorf("Acquire() after Close error = %v, want ErrLimiterClosed", err)
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	l := NewLimiter(LimiterConfig{MaxConcurrent: 3})
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		running int
		peak    int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			l.Release()
		}()
	}
	wg.Wait()

	if peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
}
