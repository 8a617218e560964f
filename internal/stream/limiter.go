package stream

// limiter.go implements concurrency control for result streams.
//
// Each active stream holds one vendor resolver busy for the whole batch, so
// an unbounded number of streams would exhaust outbound connections. The
// limiter uses a semaphore pattern to cap parallel streams at a configurable
// maximum; when all slots are occupied, new requests wait up to maxWait
// before failing with ErrTooManyStreams.
//
// WaitForDrain blocks until all active streams finish, used during graceful
// shutdown.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyStreams is returned when all stream slots are occupied and the
// wait timeout expires. Clients should retry after a short delay.
var ErrTooManyStreams = errors.New("too many concurrent result streams, please try again later")

// DefaultMaxConcurrentStreams is the default limit for parallel streams.
const DefaultMaxConcurrentStreams = 5

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 10 * time.Second

// Limiter caps the number of simultaneously running result streams.
type Limiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewLimiter creates a limiter allowing at most maxConcurrent simultaneous
// streams. Requests that cannot acquire a slot within maxWait receive
// ErrTooManyStreams.
func NewLimiter(maxConcurrent int, maxWait time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentStreams
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &Limiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire attempts to acquire a stream slot. Returns nil on success and
// ErrTooManyStreams when the wait timeout expires. The caller MUST call
// Release when the stream completes (use defer).
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		// Distinguish caller cancellation from slot-wait timeout.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyStreams
	}
}

// Release releases a previously acquired slot. Must be called exactly once
// per successful Acquire.
func (l *Limiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of currently active streams.
func (l *Limiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// WaitForDrain blocks until all active streams complete or ctx is cancelled.
func (l *Limiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
