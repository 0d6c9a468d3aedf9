// Package pacing paces iteration starts. A shared Pacer follows a rate
// profile across all workers; a per-worker token bucket caps each worker.
package pacing

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Waiter blocks until the caller may start its next iteration.
// *rate.Limiter and *Limiter both satisfy it.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Limiter issues permits at a strict minimum interval. It never bursts: a
// caller arriving after an idle gap proceeds at once, and the next permit is
// one interval after it.
type Limiter struct {
	mu         sync.Mutex
	nextPermit time.Time
	interval   time.Duration

	milliRate atomic.Int64 // rate * 1000
}

// NewLimiter creates a limiter at perSec permits per second. Non-positive
// rates are raised to one per second.
func NewLimiter(perSec float64) *Limiter {
	if perSec <= 0 {
		perSec = 1
	}
	l := &Limiter{
		nextPermit: time.Now(),
		interval:   time.Duration(float64(time.Second) / perSec),
	}
	l.milliRate.Store(int64(perSec * 1000))
	return l
}

// Wait blocks until the next permit or until ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	_, err := l.waitWithin(ctx, 0)
	return err
}

// waitWithin takes the next permit if it falls within horizon of now and
// waits for it. Otherwise it sleeps for horizon without taking a permit and
// returns false. A zero horizon always takes the permit.
func (l *Limiter) waitWithin(ctx context.Context, horizon time.Duration) (bool, error) {
	l.mu.Lock()
	now := time.Now()
	permit := l.nextPermit
	if permit.Before(now) {
		permit = now
	}
	d := permit.Sub(now)
	taken := horizon <= 0 || d <= horizon
	if taken {
		l.nextPermit = permit.Add(l.interval)
	} else {
		d = horizon
	}
	l.mu.Unlock()

	if d <= 0 {
		return taken, ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		return taken, nil
	}
}

// SetRate changes the permit rate. The next permit is rescheduled to one new
// interval after the last permit issued, and never earlier than now.
func (l *Limiter) SetRate(perSec float64) {
	if perSec <= 0 {
		perSec = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	interval := time.Duration(float64(time.Second) / perSec)
	last := l.nextPermit.Add(-l.interval)
	l.interval = interval
	l.milliRate.Store(int64(perSec * 1000))

	l.nextPermit = last.Add(interval)
	if now := time.Now(); l.nextPermit.Before(now) {
		l.nextPermit = now
	}
}

// Rate returns the current permit rate.
func (l *Limiter) Rate() float64 {
	return float64(l.milliRate.Load()) / 1000
}

// NewWorkerLimiter returns a token bucket allowing perSec iterations per
// second with a burst of one, or nil when perSec is not positive.
func NewWorkerLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSec), 1)
}
