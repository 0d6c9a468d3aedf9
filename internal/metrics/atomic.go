package metrics

import (
	"math"
	"sync/atomic"
)

// AtomicMaxFloat raises the float64 stored as bits in addr to val if val is
// larger, and returns the resulting value.
func AtomicMaxFloat(addr *atomic.Uint64, val float64) float64 {
	for {
		bits := addr.Load()
		cur := math.Float64frombits(bits)
		if val <= cur {
			return cur
		}
		if addr.CompareAndSwap(bits, math.Float64bits(val)) {
			return val
		}
	}
}

// Counter is an atomic uint64 counter.
type Counter struct {
	v atomic.Uint64
}

// Inc adds one and returns the new value.
func (c *Counter) Inc() uint64 { return c.v.Add(1) }

// Add adds delta and returns the new value.
func (c *Counter) Add(delta uint64) uint64 { return c.v.Add(delta) }

// Load returns the current value.
func (c *Counter) Load() uint64 { return c.v.Load() }

// Reset sets the counter to zero.
func (c *Counter) Reset() { c.v.Store(0) }
