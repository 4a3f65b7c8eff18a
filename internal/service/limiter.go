package service

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/olegrjumin/stackprobe/internal/apperr"
)

// Limiter bounds concurrent analyses and the number of callers waiting for a
// slot. Waiters are served in arrival order.
type Limiter struct {
	sem       *semaphore.Weighted
	maxQueued int

	mu       sync.Mutex
	inFlight int
	queued   int
}

// NewLimiter creates a Limiter. maxConcurrent below one is raised to one and
// a negative maxQueued is treated as zero.
func NewLimiter(maxConcurrent, maxQueued int) *Limiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if maxQueued < 0 {
		maxQueued = 0
	}
	return &Limiter{
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		maxQueued: maxQueued,
	}
}

// Acquire takes a slot, waiting in the queue when all slots are busy. It
// fails with ANALYZE_OVERLOADED when the queue is full. The returned release
// must be called exactly once; extra calls are ignored.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if l.sem.TryAcquire(1) {
		return l.granted(), nil
	}

	l.mu.Lock()
	if l.queued >= l.maxQueued {
		l.mu.Unlock()
		return nil, overloaded()
	}
	l.queued++
	l.mu.Unlock()

	err := l.sem.Acquire(ctx, 1)

	l.mu.Lock()
	l.queued--
	l.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("waiting for analysis slot: %w", err)
	}
	return l.granted(), nil
}

// Stats reports running and waiting callers
func (l *Limiter) Stats() (inFlight, queued int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight, l.queued
}

func (l *Limiter) granted() func() {
	l.mu.Lock()
	l.inFlight++
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.inFlight--
			l.mu.Unlock()
			l.sem.Release(1)
		})
	}
}

func overloaded() error {
	return apperr.ServiceUnavailable(apperr.CodeAnalyzeOverloaded, "Service is busy. Please retry in a moment.")
}
