package metricscollector

import (
	"sort"
	"sync"
)

// ring is a fixed-capacity, overwrite-oldest sample buffer for one operation.
type ring struct {
	samples []Record
	next    int // next write position
	full    bool
}

func newRing(capacity int) *ring {
	return &ring{samples: make([]Record, capacity)}
}

func (r *ring) push(rec Record) {
	r.samples[r.next] = rec
	r.next = (r.next + 1) % len(r.samples)
	if r.next == 0 {
		r.full = true
	}
}

// all returns a copy of the live samples in insertion order (oldest first).
func (r *ring) all() []Record {
	if !r.full {
		out := make([]Record, r.next)
		copy(out, r.samples[:r.next])
		return out
	}
	out := make([]Record, len(r.samples))
	copy(out, r.samples[r.next:])
	copy(out[len(r.samples)-r.next:], r.samples[:r.next])
	return out
}

// Collector is the Metrics Collector of spec.md §4.3: one fixed-capacity
// ring per operation, with percentiles and error breakdowns computed on
// demand by sorting the current sample set.
type Collector struct {
	mu         sync.Mutex
	bufferSize int
	rings      map[Operation]*ring

	// prom, when non-nil, mirrors every recorded sample into Prometheus
	// series — see prombridge.go. Kept as an interface so the collector
	// itself has no hard Prometheus dependency.
	prom promSink
}

// promSink is implemented by PromBridge; defined here so Collector can hold
// an optional reference without importing prometheus types directly.
type promSink interface {
	observe(rec Record)
}

// NewCollector creates a Collector whose rings each hold bufferSize samples.
func NewCollector(bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	c := &Collector{
		bufferSize: bufferSize,
		rings:      make(map[Operation]*ring, len(AllOperations)),
	}
	for _, op := range AllOperations {
		c.rings[op] = newRing(bufferSize)
	}
	return c
}

// AttachPrometheus wires a PromBridge so every subsequent Record call also
// updates Prometheus series (spec.md §4.3's ambient-stack companion).
func (c *Collector) AttachPrometheus(p promSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prom = p
}

// Record appends one MetricsRecord, dropping the oldest sample for that
// operation if the ring is full.
func (c *Collector) Record(op Operation, latencyMs float64, success bool, httpStatus int, errMsg string, responseBody string) {
	rec := Record{
		Operation:    op,
		LatencyMs:    latencyMs,
		Success:      success,
		HTTPStatus:   httpStatus,
		ErrorMessage: errMsg,
		ResponseBody: truncateBody(responseBody),
	}

	c.mu.Lock()
	ring, ok := c.rings[op]
	if !ok {
		ring = newRing(c.bufferSize)
		c.rings[op] = ring
	}
	ring.push(rec)
	prom := c.prom
	c.mu.Unlock()

	if prom != nil {
		prom.observe(rec)
	}
}

// Stats computes totals, success rate, and latency percentiles for op from
// the current sample set.
func (c *Collector) Stats(op Operation) Stats {
	samples := c.snapshot(op)
	if len(samples) == 0 {
		return Stats{}
	}

	latencies := make([]float64, len(samples))
	successCount := 0
	for i, rec := range samples {
		latencies[i] = rec.LatencyMs
		if rec.Success {
			successCount++
		}
	}
	sort.Float64s(latencies)

	return Stats{
		TotalRequests: len(samples),
		SuccessCount:  successCount,
		SuccessRate:   float64(successCount) / float64(len(samples)),
		P50:           percentile(latencies, 0.50),
		P90:           percentile(latencies, 0.90),
		P95:           percentile(latencies, 0.95),
		P99:           percentile(latencies, 0.99),
		Max:           latencies[len(latencies)-1],
	}
}

// percentile takes a pre-sorted slice and a fraction in [0,1] and returns the
// nearest-rank percentile value.
func percentile(sorted []float64, frac float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(frac * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// TotalErrors returns the count of unsuccessful samples for op.
func (c *Collector) TotalErrors(op Operation) int {
	samples := c.snapshot(op)
	n := 0
	for _, rec := range samples {
		if !rec.Success {
			n++
		}
	}
	return n
}

// ErrorBreakdown classifies every unsuccessful sample for op into
// http4xx/http5xx/network/timeout/other.
func (c *Collector) ErrorBreakdown(op Operation) map[ErrorClass]int {
	samples := c.snapshot(op)
	breakdown := map[ErrorClass]int{
		ErrClassHTTP4xx: 0,
		ErrClassHTTP5xx: 0,
		ErrClassNetwork: 0,
		ErrClassTimeout: 0,
		ErrClassOther:   0,
	}
	for _, rec := range samples {
		if rec.Success {
			continue
		}
		breakdown[classify(rec.HTTPStatus, rec.ErrorMessage)]++
	}
	return breakdown
}

// RecentErrors returns up to n of the most recent unsuccessful records for
// op, newest first, for the bounded "last 10 errors" report in spec.md §7.
func (c *Collector) RecentErrors(op Operation, n int) []Record {
	samples := c.snapshot(op)
	out := make([]Record, 0, n)
	for i := len(samples) - 1; i >= 0 && len(out) < n; i-- {
		if !samples[i].Success {
			out = append(out, samples[i])
		}
	}
	return out
}

func (c *Collector) snapshot(op Operation) []Record {
	c.mu.Lock()
	ring, ok := c.rings[op]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return ring.all()
}
