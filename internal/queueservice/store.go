// Package queueservice implements the reference per-tenant concurrency queue:
// the remote collaborator the scheduler's queue-service client talks to. It
// is not part of the scheduling core itself — it exists so the rest of the
// module has something real to run against, with the same REST contract a
// production deployment would expose.
package queueservice

import (
	"context"
	"errors"
	"time"
)

// ErrEmpty is returned by Store.Pop when a tenant's queue has no job to claim.
var ErrEmpty = errors.New("queueservice: queue is empty")

// StoredJob is the durable record a queue store holds per job: the wire
// payload plus the bookkeeping a pop needs to pick and hand back the right
// one.
type StoredJob struct {
	ID        string
	Data      []byte
	Priority  int
	CreatedAt time.Time
	CrawlID   string
	Seq       uint64 // insertion sequence, used as the tie-break on equal priority
}

// Store is the persistence seam behind the queue-service HTTP handlers. Two
// implementations exist: MemoryStore (in-process, deterministic, used by
// tests) and RedisStore (sorted-set backed). Nothing in this module picks one
// from the environment; the caller constructs a store and passes it to
// NewServer.
type Store interface {
	// Push appends a job onto teamID's queue.
	Push(ctx context.Context, teamID string, job StoredJob) error

	// Pop removes and returns the lowest-priority (earliest-inserted on tie)
	// job from teamID's queue, or ErrEmpty if none is queued.
	Pop(ctx context.Context, teamID string) (StoredJob, error)

	// Release removes jobID from whichever tenant queue holds it, if any.
	// Used for the poison-job extension in spec §7; a miss is not an error.
	Release(ctx context.Context, jobID string) error

	// Count returns the number of jobs currently queued for teamID.
	Count(ctx context.Context, teamID string) (int, error)

	// ActivePush records that jobID is active for teamID (advisory
	// monitoring only, per spec §9's open question — never reconciled back
	// against scheduler state).
	ActivePush(ctx context.Context, teamID, jobID string) error

	// ActiveRemove forgets that jobID is active for teamID.
	ActiveRemove(ctx context.Context, teamID, jobID string) error

	// ActiveCount returns how many jobs are currently marked active for teamID.
	ActiveCount(ctx context.Context, teamID string) (int, error)

	// ActiveJobIDs lists the job ids currently marked active for teamID.
	ActiveJobIDs(ctx context.Context, teamID string) ([]string, error)

	// Healthy reports whether the store can currently serve requests.
	Healthy(ctx context.Context) error

	// Close releases any held resources (connections, background loops).
	Close() error
}
