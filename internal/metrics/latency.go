// Package metrics records run statistics for the status API and exports
// them to Prometheus.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/gateway-fm/txdriver/pkg/types"
)

// DefaultReservoirSize bounds the samples kept for percentile estimation.
const DefaultReservoirSize = 10000

// DefaultSubmitBoundsMs are the histogram bucket upper bounds for
// submission latency, in milliseconds.
var DefaultSubmitBoundsMs = []float64{50, 100, 250, 1000}

// LatencyRecorder tracks count, min, max, mean and estimated percentiles of
// latency samples in constant memory. Percentiles come from a fixed-size
// reservoir (Vitter's Algorithm R). It is safe for concurrent use.
type LatencyRecorder struct {
	mu sync.RWMutex

	count int64
	sum   float64
	min   float64
	max   float64

	reservoir []float64
	capacity  int
	rng       uint64 // xorshift64* state

	bounds  []float64
	buckets []int64
	labels  []string
}

// NewLatencyRecorder creates a recorder with the given bucket bounds in
// milliseconds. Nil bounds use DefaultSubmitBoundsMs.
func NewLatencyRecorder(boundsMs []float64) *LatencyRecorder {
	if boundsMs == nil {
		boundsMs = DefaultSubmitBoundsMs
	}
	bounds := append([]float64(nil), boundsMs...)
	sort.Float64s(bounds)

	return &LatencyRecorder{
		min:       math.MaxFloat64,
		reservoir: make([]float64, 0, DefaultReservoirSize),
		capacity:  DefaultReservoirSize,
		rng:       0x9E3779B97F4A7C15,
		bounds:    bounds,
		buckets:   make([]int64, len(bounds)+1),
		labels:    bucketLabels(bounds),
	}
}

// bucketLabels renders bounds as "0-50ms", "50-100ms", ..., "1s+".
func bucketLabels(bounds []float64) []string {
	labels := make([]string, 0, len(bounds)+1)
	lower := 0.0
	for _, b := range bounds {
		labels = append(labels, fmt.Sprintf("%s-%s", formatMs(lower, false), formatMs(b, true)))
		lower = b
	}
	return append(labels, formatMs(lower, true)+"+")
}

func formatMs(ms float64, unit bool) string {
	if ms >= 1000 && math.Mod(ms, 1000) == 0 {
		return fmt.Sprintf("%gs", ms/1000)
	}
	if unit {
		return fmt.Sprintf("%gms", ms)
	}
	return fmt.Sprintf("%g", ms)
}

// Add records one sample in milliseconds.
func (r *LatencyRecorder) Add(ms float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.count++
	r.sum += ms
	r.min = math.Min(r.min, ms)
	r.max = math.Max(r.max, ms)
	r.buckets[sort.Search(len(r.bounds), func(i int) bool { return ms < r.bounds[i] })]++

	if len(r.reservoir) < r.capacity {
		r.reservoir = append(r.reservoir, ms)
		return
	}
	if j := r.next() % uint64(r.count); j < uint64(r.capacity) {
		r.reservoir[j] = ms
	}
}

func (r *LatencyRecorder) next() uint64 {
	r.rng ^= r.rng >> 12
	r.rng ^= r.rng << 25
	r.rng ^= r.rng >> 27
	return r.rng * 0x2545F4914F6CDD1D
}

// Stats returns the current statistics, or nil when nothing was recorded.
func (r *LatencyRecorder) Stats() *types.LatencyStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return nil
	}

	sorted := append([]float64(nil), r.reservoir...)
	sort.Float64s(sorted)

	buckets := make([]types.LatencyBucket, len(r.buckets))
	for i, n := range r.buckets {
		buckets[i] = types.LatencyBucket{Label: r.labels[i], Count: int(n)}
	}

	return &types.LatencyStats{
		Count:   int(r.count),
		Min:     r.min,
		Max:     r.max,
		Avg:     r.sum / float64(r.count),
		P50:     percentile(sorted, 0.50),
		P75:     percentile(sorted, 0.75),
		P90:     percentile(sorted, 0.90),
		P95:     percentile(sorted, 0.95),
		P99:     percentile(sorted, 0.99),
		Buckets: buckets,
	}
}

// percentile interpolates the p-th percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	if lower+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[lower+1]*frac
}

// Count returns the number of samples recorded.
func (r *LatencyRecorder) Count() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Reset discards all samples.
func (r *LatencyRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.count = 0
	r.sum = 0
	r.min = math.MaxFloat64
	r.max = 0
	r.reservoir = r.reservoir[:0]
	for i := range r.buckets {
		r.buckets[i] = 0
	}
}
