package queueclient

import (
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimitedDoer decorates a Doer with a per-tenant token bucket, keyed off
// the X-Team-Id request header the Client sets before dispatch. This is a
// defensive extension beyond the queue-service contract itself (spec §7's
// "admission control... beyond the scheduler's structural bounds" is a
// non-goal for the scheduler core, not for an optional client-side guard).
type RateLimitedDoer struct {
	inner    Doer
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// NewRateLimitedDoer wraps inner with a limiter allowing r requests/sec with
// a token-bucket burst of burst requests per distinct teamId.
func NewRateLimitedDoer(inner Doer, r float64, burst int) *RateLimitedDoer {
	return &RateLimitedDoer{
		inner:    inner,
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(r),
		burst:    burst,
	}
}

func (d *RateLimitedDoer) limiterFor(teamID string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[teamID]
	if !ok {
		l = rate.NewLimiter(d.r, d.burst)
		d.limiters[teamID] = l
	}
	return l
}

// Do rejects the request locally without ever reaching the wire if the
// tenant's bucket is empty.
func (d *RateLimitedDoer) Do(req *http.Request) (*http.Response, error) {
	teamID := req.Header.Get("X-Team-Id")
	if teamID != "" {
		if !d.limiterFor(teamID).Allow() {
			return nil, fmt.Errorf("queueclient: rate limit exceeded for team %s", teamID)
		}
	}
	return d.inner.Do(req)
}

var _ Doer = (*RateLimitedDoer)(nil)
