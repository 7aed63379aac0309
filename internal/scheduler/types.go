// Package scheduler implements the priority-ordered, per-tenant
// concurrency-governed job scheduler: the process-local main queue, the
// per-tenant overflow-to-remote-queue logic, and the promotion-on-completion
// that pulls overflowed jobs back in.
package scheduler

import "time"

// Tier is a template describing a class of tenants.
type Tier struct {
	Name             string
	TeamCount        int
	ConcurrencyLimit int     // max simultaneously active jobs per tenant
	JobsPerSecond    float64 // synthetic push rate per tenant
}

// MainQueueJob is a job waiting in the process-local main queue.
type MainQueueJob struct {
	JobID     string
	TeamID    string
	Priority  int // lower = higher priority
	CreatedAt time.Time
	CrawlID   string // optional; empty if none
	Data      map[string]any
}

// ActiveJob is a job currently occupying one of a tenant's concurrency slots.
type ActiveJob struct {
	JobID     string
	QueueKey  string // opaque; empty unless this job came from a remote pop
	StartTime time.Time
	FromFDB   bool // true if this job was obtained via promotion from the overflow queue
}

// ClaimedJob is what a remote pop returns.
type ClaimedJob struct {
	JobID     string
	Priority  int
	CreatedAt time.Time
	CrawlID   string
	QueueKey  string
}

// TenantState is the per-team state the scheduler tracks.
type TenantState struct {
	TeamID string
	Tier   *Tier

	ActiveJobs map[string]*ActiveJob // jobId -> ActiveJob, size <= Tier.ConcurrencyLimit

	QueuedJobs int // count of jobs this tenant currently has in the remote overflow queue

	CompletedJobs int64
	JobCounter    int64
	LastPushTime  time.Time

	// lastClaimedPriority and hasClaimedBefore are not updated by the
	// scheduler; the Oracle's priority-inversion warning (spec.md §4.4) uses
	// the Oracle's own per-tenant record of the last claimed priority.
	lastClaimedPriority int
	hasClaimedBefore    bool
}

// NewTenantState creates a fresh TenantState for teamID under tier.
func NewTenantState(teamID string, tier *Tier) *TenantState {
	return &TenantState{
		TeamID:     teamID,
		Tier:       tier,
		ActiveJobs: make(map[string]*ActiveJob, tier.ConcurrencyLimit),
	}
}

// IsAtCapacity reports whether the tenant has no free concurrency slots.
func (t *TenantState) IsAtCapacity() bool {
	return len(t.ActiveJobs) >= t.Tier.ConcurrencyLimit
}

// Config holds the tunables a scheduler run needs, corresponding to the
// Configuration list in spec.md §6.
type Config struct {
	WorkerConcurrency   int
	JobProcessingDelay  time.Duration
	MaxPicksPerTick      int           // "up to 100 pickFromMainQueue calls per tick"
	TickInterval         time.Duration // cooperative-scheduling tick length
	SemaphoreWaiterCap   int           // sleep the tick if more than this many acquirers are pending
	SemaphoreSleep       time.Duration
}

// DefaultConfig returns the reference values from spec.md §6/§4.1.
func DefaultConfig() Config {
	return Config{
		WorkerConcurrency:  50,
		JobProcessingDelay: 200 * time.Millisecond,
		MaxPicksPerTick:    100,
		TickInterval:       10 * time.Millisecond,
		SemaphoreWaiterCap: 1000,
		SemaphoreSleep:     10 * time.Millisecond,
	}
}
