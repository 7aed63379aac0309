package queueservice

import (
	"container/heap"
	"context"
	"sync"
)

// jobHeap is a container/heap.Interface over StoredJob, ordered by priority
// then insertion sequence — the same selection rule the in-process main
// queue uses, since the remote service is contractually responsible for
// preserving it once a job is pushed.
type jobHeap []StoredJob

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(StoredJob)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MemoryStore is an in-process Store backed by one heap per tenant plus an
// active-job id set per tenant. It requires no external dependency and is
// fully deterministic, which is why the tests run the server on it.
type MemoryStore struct {
	mu      sync.Mutex
	queues  map[string]*jobHeap
	active  map[string]map[string]struct{}
	nextSeq uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queues: make(map[string]*jobHeap),
		active: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) queueFor(teamID string) *jobHeap {
	q, ok := s.queues[teamID]
	if !ok {
		q = &jobHeap{}
		heap.Init(q)
		s.queues[teamID] = q
	}
	return q
}

func (s *MemoryStore) Push(ctx context.Context, teamID string, job StoredJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	job.Seq = s.nextSeq
	heap.Push(s.queueFor(teamID), job)
	return nil
}

func (s *MemoryStore) Pop(ctx context.Context, teamID string) (StoredJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queueFor(teamID)
	if q.Len() == 0 {
		return StoredJob{}, ErrEmpty
	}
	return heap.Pop(q).(StoredJob), nil
}

func (s *MemoryStore) Release(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.queues {
		for i, job := range *q {
			if job.ID == jobID {
				*q = append((*q)[:i], (*q)[i+1:]...)
				heap.Init(q)
				return nil
			}
		}
	}
	return nil
}

func (s *MemoryStore) Count(ctx context.Context, teamID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueFor(teamID).Len(), nil
}

func (s *MemoryStore) activeSetFor(teamID string) map[string]struct{} {
	set, ok := s.active[teamID]
	if !ok {
		set = make(map[string]struct{})
		s.active[teamID] = set
	}
	return set
}

func (s *MemoryStore) ActivePush(ctx context.Context, teamID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeSetFor(teamID)[jobID] = struct{}{}
	return nil
}

func (s *MemoryStore) ActiveRemove(ctx context.Context, teamID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeSetFor(teamID), jobID)
	return nil
}

func (s *MemoryStore) ActiveCount(ctx context.Context, teamID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeSetFor(teamID)), nil
}

func (s *MemoryStore) ActiveJobIDs(ctx context.Context, teamID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.activeSetFor(teamID)))
	for id := range s.activeSetFor(teamID) {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) Healthy(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
