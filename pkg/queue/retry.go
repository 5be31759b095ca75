package queue

import (
	"context"
	"time"
)

// RetryPolicy bounds how long a worker spends on a single push or pop before
// handing control back to its loop.
type RetryPolicy struct {
	RetryTimeout time.Duration // Per-attempt wait
	MaxRetries   int           // Attempts before giving up
	PollInterval time.Duration // Pause between attempts
}

func (p RetryPolicy) attempts() int {
	if p.MaxRetries <= 0 {
		return 1
	}
	return p.MaxRetries
}

// pause sleeps for the poll interval, returning false if ctx ends first
func (p RetryPolicy) pause(ctx context.Context) bool {
	if p.PollInterval <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(p.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// PushWithRetry tries to push value up to MaxRetries times. It stops early
// once ctx is cancelled. Returns false if every attempt failed.
func PushWithRetry[T any](ctx context.Context, q *PriorityQueue[T], policy RetryPolicy, priority int, value T) bool {
	for i := 0; i < policy.attempts(); i++ {
		if ctx.Err() != nil {
			return false
		}
		if q.Push(priority, value, policy.RetryTimeout) {
			return true
		}
		if !policy.pause(ctx) {
			return false
		}
	}
	return false
}

// PopWithRetry tries to pop up to MaxRetries times, stopping early once ctx
// is cancelled.
func PopWithRetry[T any](ctx context.Context, q *PriorityQueue[T], policy RetryPolicy) (T, bool) {
	var zero T
	for i := 0; i < policy.attempts(); i++ {
		if ctx.Err() != nil {
			return zero, false
		}
		if v, ok := q.Pop(policy.RetryTimeout); ok {
			return v, true
		}
		if !policy.pause(ctx) {
			return zero, false
		}
	}
	return zero, false
}
