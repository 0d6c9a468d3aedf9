package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gateway-fm/txdriver/internal/driver"
	"github.com/gateway-fm/txdriver/pkg/types"
)

// RollingWindow is the span over which CurrentTPS is averaged.
const RollingWindow = 5 * time.Second

const windowResolution = 100 * time.Millisecond

type windowPoint struct {
	slot  time.Time
	count int
}

// Collector aggregates iteration outcomes of one run in memory. It
// implements driver.Observer and is safe for concurrent use.
type Collector struct {
	iterations  Counter
	submitted   Counter
	failed      Counter
	interrupted Counter
	retries     Counter
	failures    map[driver.ErrorKind]*Counter

	latency *LatencyRecorder

	mu        sync.Mutex
	window    []windowPoint
	firstSeen time.Time
	peakBits  atomic.Uint64

	now func() time.Time
}

var _ driver.Observer = (*Collector)(nil)

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	c := &Collector{
		failures: make(map[driver.ErrorKind]*Counter, len(driver.AllKinds)),
		latency:  NewLatencyRecorder(nil),
		now:      time.Now,
	}
	for _, k := range driver.AllKinds {
		c.failures[k] = &Counter{}
	}
	return c
}

// ObserveIteration records one outcome.
func (c *Collector) ObserveIteration(o driver.Outcome) {
	if o.Interrupted() {
		c.interrupted.Inc()
		return
	}
	c.iterations.Inc()
	if o.Attempts > 1 {
		c.retries.Add(uint64(o.Attempts - 1))
	}
	if !o.Succeeded() {
		c.failed.Inc()
		if fc, ok := c.failures[o.Kind]; ok {
			fc.Inc()
		}
		return
	}

	c.submitted.Inc()
	c.latency.Add(float64(o.SubmitLatency.Microseconds()) / 1000)
	c.recordSubmission()
}

func (c *Collector) recordSubmission() {
	now := c.now()
	slot := now.Truncate(windowResolution)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.firstSeen.IsZero() {
		c.firstSeen = now
	}
	if n := len(c.window); n > 0 && c.window[n-1].slot.Equal(slot) {
		c.window[n-1].count++
		return
	}
	c.window = append(c.window, windowPoint{slot: slot, count: 1})
}

// CurrentTPS returns submissions per second over the last RollingWindow,
// and updates the peak.
func (c *Collector) CurrentTPS() float64 {
	now := c.now()
	cutoff := now.Add(-RollingWindow)

	c.mu.Lock()
	keep := 0
	total := 0
	for _, p := range c.window {
		if p.slot.After(cutoff) {
			c.window[keep] = p
			keep++
			total += p.count
		}
	}
	c.window = c.window[:keep]
	span := RollingWindow
	if !c.firstSeen.IsZero() {
		if since := now.Sub(c.firstSeen); since < span {
			span = since
		}
	}
	c.mu.Unlock()

	if total == 0 || span <= 0 {
		return 0
	}
	// Anything under one resolution step would overstate the rate.
	if span < time.Second {
		span = time.Second
	}
	tps := float64(total) / span.Seconds()
	AtomicMaxFloat(&c.peakBits, tps)
	return tps
}

// PeakTPS returns the highest CurrentTPS seen since the last Reset.
func (c *Collector) PeakTPS() float64 {
	return AtomicMaxFloat(&c.peakBits, 0)
}

// Failures returns the failure breakdown.
func (c *Collector) Failures() types.FailureCounts {
	return types.FailureCounts{
		AccountNotFound:          c.failures[driver.KindAccountNotFound].Load(),
		ClientConstructionFailed: c.failures[driver.KindClientConstructionFailed].Load(),
		NonceFetchFailed:         c.failures[driver.KindNonceFetchFailed].Load(),
		FeeFetchFailed:           c.failures[driver.KindFeeFetchFailed].Load(),
		BuildValidationFailed:    c.failures[driver.KindBuildValidationFailed].Load(),
		SubmissionFailed:         c.failures[driver.KindSubmissionFailed].Load(),
	}
}

// Fill copies the collector's counters into m. Run identity, status and
// timing fields are left to the caller.
func (c *Collector) Fill(m *types.RunMetrics) {
	m.Iterations = c.iterations.Load()
	m.TxSubmitted = c.submitted.Load()
	m.TxFailed = c.failed.Load()
	m.RetryAttempts = c.retries.Load()
	m.Failures = c.Failures()
	m.CurrentTPS = c.CurrentTPS()
	m.PeakTPS = c.PeakTPS()
	m.Latency = c.latency.Stats()
}

// Submitted returns the number of accepted submissions.
func (c *Collector) Submitted() uint64 {
	return c.submitted.Load()
}

// Interrupted returns the number of iterations cut short by the run ending.
func (c *Collector) Interrupted() uint64 {
	return c.interrupted.Load()
}

// Latency returns the submission latency statistics, or nil if none.
func (c *Collector) Latency() *types.LatencyStats {
	return c.latency.Stats()
}

// Reset clears everything for a new run.
func (c *Collector) Reset() {
	c.iterations.Reset()
	c.submitted.Reset()
	c.failed.Reset()
	c.interrupted.Reset()
	c.retries.Reset()
	for _, fc := range c.failures {
		fc.Reset()
	}
	c.latency.Reset()
	c.peakBits.Store(0)

	c.mu.Lock()
	c.window = c.window[:0]
	c.firstSeen = time.Time{}
	c.mu.Unlock()
}
