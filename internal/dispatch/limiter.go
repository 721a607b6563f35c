package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrQueueFull      = errors.New("prover queue is full")
	ErrAcquireTimeout = errors.New("timed out waiting for a prover slot")
	ErrLimiterClosed  = errors.New("limiter is closed")
)

// LimiterConfig bounds concurrent work.
type LimiterConfig struct {
	// MaxConcurrent is the number of operations allowed to run at once. 0 means
	// unlimited.
	MaxConcurrent int `yaml:"max_concurrent"`

	// QueueSize caps the number of callers waiting for a slot. 0 means unbounded.
	QueueSize int `yaml:"queue_size"`

	// AcquireTimeout caps the wait for a slot. 0 waits until the context is done.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// Limiter is a counting semaphore with a bounded wait queue.
type Limiter struct {
	config  LimiterConfig
	permits chan struct{}

	closeOnce sync.Once
	done      chan struct{}

	waiting atomic.Int32
	active  atomic.Int32

	acquired atomic.Int64
	rejected atomic.Int64
	timeouts atomic.Int64
}

// NewLimiter builds a limiter from config.
func NewLimiter(config LimiterConfig) *Limiter {
	l := &Limiter{config: config, done: make(chan struct{})}
	if config.MaxConcurrent > 0 {
		l.permits = make(chan struct{}, config.MaxConcurrent)
		for i := 0; i < config.MaxConcurrent; i++ {
			l.permits <- struct{}{}
		}
	}
	return l
}

// Acquire blocks until a slot is free, the queue is full, the acquire timeout
// elapses or ctx is done. Every successful Acquire must be paired with Release.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case <-l.done:
		return ErrLimiterClosed
	default:
	}

	if l.permits == nil {
		l.active.Add(1)
		l.acquired.Add(1)
		return nil
	}

	// Fast path: a free slot does not count against the queue.
	select {
	case <-l.permits:
		l.active.Add(1)
		l.acquired.Add(1)
		return nil
	default:
	}

	if n := l.waiting.Add(1); l.config.QueueSize > 0 && int(n) > l.config.QueueSize {
		l.waiting.Add(-1)
		l.rejected.Add(1)
		return ErrQueueFull
	}
	defer l.waiting.Add(-1)

	var timeoutCh <-chan time.Time
	if l.config.AcquireTimeout > 0 {
		timer := time.NewTimer(l.config.AcquireTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-l.permits:
		l.active.Add(1)
		l.acquired.Add(1)
		return nil
	case <-l.done:
		return ErrLimiterClosed
	case <-ctx.Done():
		l.timeouts.Add(1)
		return ctx.Err()
	case <-timeoutCh:
		l.timeouts.Add(1)
		return ErrAcquireTimeout
	}
}

// Release returns a slot.
func (l *Limiter) Release() {
	l.active.Add(-1)
	if l.permits == nil {
		return
	}
	select {
	case l.permits <- struct{}{}:
	default:
	}
}

// Close wakes every waiter with ErrLimiterClosed. Running operations keep their slots.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// LimiterStats is a point-in-time view of a limiter.
type LimiterStats struct {
	MaxConcurrent int   `json:"max_concurrent"`
	Active        int   `json:"active"`
	Waiting       int   `json:"waiting"`
	TotalAcquired int64 `json:"total_acquired"`
	TotalRejected int64 `json:"total_rejected"`
	TotalTimeouts int64 `json:"total_timeouts"`
}

func (l *Limiter) Stats() LimiterStats {
	return LimiterStats{
		MaxConcurrent: l.config.MaxConcurrent,
		Active:        int(l.active.Load()),
		Waiting:       int(l.waiting.Load()),
		TotalAcquired: l.acquired.Load(),
		TotalRejected: l.rejected.Load(),
		TotalTimeouts: l.timeouts.Load(),
	}
}
