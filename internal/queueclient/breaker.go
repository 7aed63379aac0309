package queueclient

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// circuitState mirrors the closed/half-open/open machine the teacher's
// scheduler circuit breaker implements, applied here to the transport layer
// guarding calls to the remote concurrency queue instead of task dispatch.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitHalfOpen
	circuitOpen
)

func (s circuitState) String() string {
	switch s {
	case circuitClosed:
		return "closed"
	case circuitHalfOpen:
		return "half_open"
	case circuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerDoer decorates a Doer, tripping open after consecutiveFailureLimit
// failures in a row (transport errors or HTTP 5xx responses) and rejecting
// calls locally until cooldown elapses, then admitting a small number of
// half-open probes before closing.
type BreakerDoer struct {
	inner Doer

	mu                      sync.Mutex
	state                   circuitState
	consecutiveFailures     int
	consecutiveFailureLimit int
	cooldown                time.Duration
	openedAt                time.Time
	halfOpenProbes          int
	halfOpenProbeLimit      int
}

// NewBreakerDoer wraps inner with a breaker that opens after
// consecutiveFailureLimit failures and stays open for cooldown before
// probing again.
func NewBreakerDoer(inner Doer, consecutiveFailureLimit int, cooldown time.Duration) *BreakerDoer {
	return &BreakerDoer{
		inner:                   inner,
		consecutiveFailureLimit: consecutiveFailureLimit,
		cooldown:                cooldown,
		halfOpenProbeLimit:      3,
	}
}

func (b *BreakerDoer) Do(req *http.Request) (*http.Response, error) {
	if !b.admit() {
		return nil, fmt.Errorf("queueclient: circuit breaker open")
	}

	resp, err := b.inner.Do(req)
	if err != nil || (resp != nil && resp.StatusCode >= 500) {
		b.recordFailure()
		return resp, err
	}
	b.recordSuccess()
	return resp, err
}

func (b *BreakerDoer) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == circuitOpen && time.Since(b.openedAt) > b.cooldown {
		b.state = circuitHalfOpen
		b.halfOpenProbes = 0
	}

	switch b.state {
	case circuitOpen:
		return false
	case circuitHalfOpen:
		if b.halfOpenProbes >= b.halfOpenProbeLimit {
			return false
		}
		b.halfOpenProbes++
		return true
	default:
		return true
	}
}

func (b *BreakerDoer) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == circuitHalfOpen {
		b.state = circuitOpen
		b.openedAt = time.Now()
		b.consecutiveFailures = 0
		return
	}

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.consecutiveFailureLimit {
		b.state = circuitOpen
		b.openedAt = time.Now()
	}
}

func (b *BreakerDoer) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	if b.state == circuitHalfOpen && b.halfOpenProbes >= b.halfOpenProbeLimit {
		b.state = circuitClosed
	}
}

// State reports the breaker's current state, for diagnostics/tests.
func (b *BreakerDoer) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

var _ Doer = (*BreakerDoer)(nil)
