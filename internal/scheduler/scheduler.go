package scheduler

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/duskline/crawlforge/internal/clock"
	"github.com/duskline/crawlforge/internal/metricscollector"
	"github.com/duskline/crawlforge/internal/oracle"
	"github.com/duskline/crawlforge/internal/queueclient"
)

// pendingPromotions is tracked per tenant alongside the exported TenantState
// so Phase C's capacity check never lets a newly generated job steal a slot
// that a completion already reserved for a promotion attempt still in
// flight — without this, a claim returned by Client.Pop could arrive with
// nowhere to go, which §4.1 forbids ("never silently dropped").
type tenantExtra struct {
	pendingPromotions int
}

// pushOutcome is how Phase B's fire-and-acquire push tasks report back to the
// main loop, which is the only goroutine allowed to mutate TenantState.
type pushOutcome struct {
	job     *MainQueueJob
	success bool
}

// completionOutcome is how Phase D's completion tasks report back.
type completionOutcome struct {
	teamID   string
	promoted *queueclient.ClaimedJob
}

// Scheduler is the heart of the system: it owns per-tenant state, the
// process-local main queue, the overflow buffer, the worker-concurrency
// semaphore, and the promotion logic.
type Scheduler struct {
	cfg     Config
	clock   clock.Clock
	client  *queueclient.Client
	oracle  *oracle.Oracle
	metrics *metricscollector.Collector

	runID string

	mainQueue *MainQueue

	mu       sync.Mutex // guards tenants/extras/overflow; held only on the main-loop goroutine except for read-only reporting helpers
	tenants  map[string]*TenantState
	extras   map[string]*tenantExtra
	order    []string // stable tenant iteration order for generate/completable
	overflow []*MainQueueJob

	sem             *semaphore.Weighted
	pendingAcquires int64 // atomic

	pushResults       chan pushOutcome
	completionResults chan completionOutcome

	shutdown atomic.Bool
}

// New builds a Scheduler over the given tenants (teamId -> Tier) wired to
// client/oracle/metrics/clock, ready to Run.
func New(cfg Config, c clock.Clock, client *queueclient.Client, o *oracle.Oracle, metrics *metricscollector.Collector, tiers []*Tier) *Scheduler {
	s := &Scheduler{
		cfg:               cfg,
		clock:             c,
		client:            client,
		oracle:            o,
		metrics:           metrics,
		runID:             clock.RunID(c.NowMillis()),
		mainQueue:         NewMainQueue(),
		tenants:           make(map[string]*TenantState),
		extras:            make(map[string]*tenantExtra),
		sem:               semaphore.NewWeighted(int64(cfg.WorkerConcurrency)),
		pushResults:       make(chan pushOutcome, 4096),
		completionResults: make(chan completionOutcome, 4096),
	}
	for _, tier := range tiers {
		for i := 0; i < tier.TeamCount; i++ {
			teamID := clock.TeamID(s.runID, tier.Name, i)
			s.tenants[teamID] = NewTenantState(teamID, tier)
			s.extras[teamID] = &tenantExtra{}
			s.order = append(s.order, teamID)
		}
	}
	return s
}

// RunID returns the identifier composed for this scheduler instance.
func (s *Scheduler) RunID() string { return s.runID }

// ShuttingDown reports whether the main loop has entered the drain phase.
func (s *Scheduler) ShuttingDown() bool { return s.shutdown.Load() }

// Metrics returns the collector this scheduler's client records into.
func (s *Scheduler) Metrics() *metricscollector.Collector { return s.metrics }

// Oracle returns the correctness oracle this scheduler's client reports to.
func (s *Scheduler) Oracle() *oracle.Oracle { return s.oracle }

// Tenant returns a pointer to a tenant's live state, or nil. The main loop
// keeps mutating that state while Run is active; it is not a snapshot.
func (s *Scheduler) Tenant(teamID string) *TenantState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tenants[teamID]
}

// TenantIDs returns the stable iteration order of all configured tenants.
func (s *Scheduler) TenantIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// IsAtCapacity reports whether teamId has no slot free for a new active job,
// counting reservations already made for in-flight promotions.
func (s *Scheduler) IsAtCapacity(teamID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isAtCapacityLocked(teamID)
}

func (s *Scheduler) isAtCapacityLocked(teamID string) bool {
	t := s.tenants[teamID]
	if t == nil {
		return true
	}
	reserved := s.extras[teamID].pendingPromotions
	return len(t.ActiveJobs)+reserved >= t.Tier.ConcurrencyLimit
}

// Generate implements generate(now): for every tenant due a push (by its
// jobsPerSecond rate, jittered ±20%), appends a fresh MainQueueJob.
func (s *Scheduler) Generate(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, teamID := range s.order {
		t := s.tenants[teamID]
		if t.Tier.JobsPerSecond <= 0 {
			continue
		}
		interval := time.Duration(float64(time.Second) / t.Tier.JobsPerSecond)
		jitter := 1 + (rand.Float64()*0.4 - 0.2) // ±20%
		due := t.LastPushTime.Add(time.Duration(float64(interval) * jitter))
		if t.LastPushTime.IsZero() || !now.Before(due) {
			t.JobCounter++
			job := &MainQueueJob{
				JobID:     clock.JobID(s.runID, teamID, t.JobCounter),
				TeamID:    teamID,
				Priority:  1 + rand.Intn(100),
				CreatedAt: now,
				Data: map[string]any{
					"url":  fmt.Sprintf("https://example.test/crawl/%s/%d", teamID, t.JobCounter),
					"mode": "synthetic",
				},
			}
			if rand.Float64() < 0.2 {
				job.CrawlID = clock.CrawlID(teamID, t.JobCounter)
			}
			t.LastPushTime = now
			s.mainQueue.Push(job)
		}
	}
}

// PickFromMainQueue returns the globally highest-priority job, or nil.
func (s *Scheduler) PickFromMainQueue() *MainQueueJob {
	return s.mainQueue.Pick()
}

// StartJob inserts job into teamId's ActiveJobs. Returns ErrAtCapacity if
// the tenant has no free slot — a programming error, per spec.md §7 fatal
// to the caller, never a condition this method silently tolerates.
func (s *Scheduler) StartJob(job *MainQueueJob, now time.Time, fromFDB bool) (*ActiveJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tenants[job.TeamID]
	if t == nil {
		return nil, ErrUnknownTenant
	}
	if len(t.ActiveJobs) >= t.Tier.ConcurrencyLimit {
		return nil, ErrAtCapacity
	}
	active := &ActiveJob{JobID: job.JobID, StartTime: now, FromFDB: fromFDB}
	t.ActiveJobs[job.JobID] = active
	return active, nil
}

// PushToOverflow appends job to the in-process overflow buffer, to be
// drained into the remote concurrency queue on a later tick.
func (s *Scheduler) PushToOverflow(job *MainQueueJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overflow = append(s.overflow, job)
}

// Completable returns every ActiveJob for teamId whose processing delay has
// elapsed, without removing them.
func (s *Scheduler) Completable(teamID string, now time.Time) []*ActiveJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenants[teamID]
	if t == nil {
		return nil
	}
	var out []*ActiveJob
	for _, a := range t.ActiveJobs {
		if !now.Before(a.StartTime.Add(s.cfg.JobProcessingDelay)) {
			out = append(out, a)
		}
	}
	return out
}

// Run drives the cooperative main loop until ctx is cancelled or duration
// elapses, then runs the drain phase described in spec.md §4.1.
func (s *Scheduler) Run(ctx context.Context, duration time.Duration) {
	start := s.clock.Now()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown.Store(true)
			s.drain(ctx)
			return
		case <-ticker.C:
			if s.clock.Now().Sub(start) >= duration {
				s.shutdown.Store(true)
				s.drain(ctx)
				return
			}
			s.tick(ctx)
		}
	}
}

// tick runs Phases A through D once, then the single cooperative yield.
func (s *Scheduler) tick(ctx context.Context) {
	s.drainChannels()

	now := s.clock.Now()
	s.Generate(now) // Phase A

	s.drainOverflow(ctx) // Phase B

	s.dispatch(ctx, now) // Phase C

	s.completePass(ctx, now) // Phase D

	if s.semaphoreSaturated() {
		s.clock.Sleep(s.cfg.SemaphoreSleep)
	}
}

func (s *Scheduler) semaphoreSaturated() bool {
	return atomic.LoadInt64(&s.pendingAcquires) > int64(s.cfg.SemaphoreWaiterCap)
}

// drainChannels applies every buffered push/completion result that a
// previous tick's tasks have finished computing, serialized onto the main
// loop goroutine.
func (s *Scheduler) drainChannels() {
	for {
		select {
		case r := <-s.pushResults:
			s.applyPushResult(r)
		case r := <-s.completionResults:
			s.applyCompletionResult(r)
		default:
			return
		}
	}
}

func (s *Scheduler) applyPushResult(r pushOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !r.success {
		// §7: transport/4xx/5xx failures leave source state unchanged so the
		// transition is retried on a later tick.
		s.overflow = append(s.overflow, r.job)
		return
	}
	if t := s.tenants[r.job.TeamID]; t != nil {
		t.QueuedJobs++
	}
}

func (s *Scheduler) applyCompletionResult(r completionOutcome) {
	s.mu.Lock()
	extra := s.extras[r.teamID]
	if extra != nil {
		extra.pendingPromotions--
	}
	t := s.tenants[r.teamID]
	if t != nil && r.promoted != nil {
		t.QueuedJobs--
	}
	s.mu.Unlock()

	if r.promoted == nil {
		return
	}
	now := s.clock.Now()
	job := &MainQueueJob{
		JobID:     r.promoted.JobID,
		TeamID:    r.teamID,
		Priority:  r.promoted.Priority,
		CreatedAt: now,
		CrawlID:   r.promoted.CrawlID,
	}
	active, err := s.StartJob(job, now, true)
	if err != nil {
		log.Printf("scheduler: fatal invariant violation starting promoted job %s for %s: %v", job.JobID, r.teamID, err)
		panic(err)
	}
	active.QueueKey = r.promoted.QueueKey
	s.fireActivePush(context.Background(), r.teamID, job.JobID)
}

// drainOverflow dispatches one push task per item currently in the overflow
// buffer, each gated by the worker-concurrency semaphore.
func (s *Scheduler) drainOverflow(ctx context.Context) {
	s.mu.Lock()
	batch := s.overflow
	s.overflow = nil
	s.mu.Unlock()

	for _, job := range batch {
		atomic.AddInt64(&s.pendingAcquires, 1)
		go func() {
			defer atomic.AddInt64(&s.pendingAcquires, -1)
			if err := s.sem.Acquire(ctx, 1); err != nil {
				s.pushResults <- pushOutcome{job: job, success: false}
				return
			}
			defer s.sem.Release(1)

			res := s.client.Push(ctx, job.TeamID, job.JobID, job.Priority, 30000, job.CrawlID, job.Data, s.clock.Now())
			s.pushResults <- pushOutcome{job: job, success: res.Success}
		}()
	}
}

// dispatch runs Phase C: up to MaxPicksPerTick selections from the main
// queue, starting jobs where capacity allows and overflowing the rest.
func (s *Scheduler) dispatch(ctx context.Context, now time.Time) {
	for i := 0; i < s.cfg.MaxPicksPerTick; i++ {
		job := s.PickFromMainQueue()
		if job == nil {
			return
		}
		if s.IsAtCapacity(job.TeamID) {
			s.PushToOverflow(job)
			continue
		}
		if _, err := s.StartJob(job, now, false); err != nil {
			// Lost the race against a concurrent... there is no concurrent
			// mutator of ActiveJobs; a capacity error here means the
			// preceding IsAtCapacity check and this call observed
			// inconsistent state, which is a programming error.
			log.Printf("scheduler: fatal: %v", err)
			panic(err)
		}
		s.fireActivePush(ctx, job.TeamID, job.JobID)
	}
}

// fireActivePush best-effort informs the remote service a job started, for
// monitoring only — it never mutates scheduler state and its result is
// discarded, per spec.md §4.1/§9.
func (s *Scheduler) fireActivePush(ctx context.Context, teamID, jobID string) {
	if !s.sem.TryAcquire(1) {
		return
	}
	go func() {
		defer s.sem.Release(1)
		s.client.ActivePush(ctx, teamID, jobID, 30000)
	}()
}

// completePass runs Phase D: every completable active job across every
// tenant is removed, completed, and — if a promotion claim is available —
// the reserved slot is carried forward to a completionOutcome.
func (s *Scheduler) completePass(ctx context.Context, now time.Time) {
	for _, teamID := range s.TenantIDs() {
		for _, active := range s.Completable(teamID, now) {
			s.mu.Lock()
			t := s.tenants[teamID]
			delete(t.ActiveJobs, active.JobID)
			t.CompletedJobs++
			attemptPromotion := t.QueuedJobs > 0
			if attemptPromotion {
				s.extras[teamID].pendingPromotions++
			}
			s.mu.Unlock()

			atomic.AddInt64(&s.pendingAcquires, 1)
			go func() {
				defer atomic.AddInt64(&s.pendingAcquires, -1)
				if err := s.sem.Acquire(ctx, 1); err != nil {
					if attemptPromotion {
						s.completionResults <- completionOutcome{teamID: teamID}
					}
					return
				}
				defer s.sem.Release(1)

				if active.FromFDB {
					s.oracle.RecordComplete(active.JobID, true, s.clock.Now())
				}
				if active.QueueKey != "" {
					s.client.Complete(ctx, active.QueueKey)
				}
				var promoted *queueclient.ClaimedJob
				if attemptPromotion {
					workerID := clock.WorkerID(s.runID, 0)
					res := s.client.Pop(ctx, teamID, workerID, nil, s.clock.Now())
					if res.Success {
						promoted = res.Data
					}
					s.completionResults <- completionOutcome{teamID: teamID, promoted: promoted}
				}
			}()
		}
	}
}

// drain runs spec.md §4.1's drain phase: no new generation, repeated Phase D
// passes, with progress prints, stall detection, and a hard cap.
func (s *Scheduler) drain(ctx context.Context) {
	deadline := s.clock.Now().Add(3*s.cfg.JobProcessingDelay + 30*time.Second)
	lastProgress := s.clock.Now()
	lastActive := s.totalActive()
	lastChange := s.clock.Now()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if s.totalActive() == 0 {
			return
		}
		if s.clock.Now().After(deadline) {
			log.Printf("scheduler: drain hard cap reached with %d jobs still active", s.totalActive())
			return
		}
		<-ticker.C
		s.drainChannels()
		s.completePass(ctx, s.clock.Now())

		active := s.totalActive()
		if active != lastActive {
			lastActive = active
			lastChange = s.clock.Now()
		} else if s.clock.Now().Sub(lastChange) >= 10*time.Second {
			log.Printf("scheduler: drain stalled at %d active jobs", active)
			return
		}
		if s.clock.Now().Sub(lastProgress) >= 5*time.Second {
			log.Printf("scheduler: draining, %d active jobs remain", active)
			lastProgress = s.clock.Now()
		}
	}
}

func (s *Scheduler) totalActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tenants {
		n += len(t.ActiveJobs)
	}
	return n
}
