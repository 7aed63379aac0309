package scheduler

import (
	"container/heap"
	"sync"
)

// mainQueueEntry wraps a MainQueueJob with the insertion sequence number used
// to break priority ties in favor of the earliest insertion, per spec.md
// §4.1's pickFromMainQueue contract.
type mainQueueEntry struct {
	job *MainQueueJob
	seq int64
}

// mainQueueHeap implements container/heap.Interface. Pop yields the smallest
// priority across all tenants; equal priorities go to the lowest seq
// (earliest insertion), matching spec.md's "linear scan selecting the
// smallest priority ... tie-break by insertion order" contract. A heap
// satisfies that selection rule in O(log n) instead of the O(n) scan spec.md
// §9 says is "acceptable up to ~10^3 entries" — we take the scale option it
// explicitly allows.
type mainQueueHeap []*mainQueueEntry

func (h mainQueueHeap) Len() int { return len(h) }

func (h mainQueueHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority < h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h mainQueueHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mainQueueHeap) Push(x any) {
	*h = append(*h, x.(*mainQueueEntry))
}

func (h *mainQueueHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// MainQueue is the process-local, priority-selected buffer of newly
// generated jobs awaiting worker pickup (spec.md §2, §4.1, GLOSSARY).
type MainQueue struct {
	mu   sync.Mutex
	h    mainQueueHeap
	next int64
}

// NewMainQueue creates an empty MainQueue.
func NewMainQueue() *MainQueue {
	return &MainQueue{h: make(mainQueueHeap, 0)}
}

// Push appends a job at the tail, in the insertion-order sense used for
// tie-breaking.
func (q *MainQueue) Push(job *MainQueueJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, &mainQueueEntry{job: job, seq: q.next})
	q.next++
}

// Pick extracts the globally highest-priority job (lowest Priority value),
// tie-broken by earliest insertion. Returns nil if the queue is empty.
// Capacity is not considered here: per spec.md §4.1, "isAtCapacity is the
// caller's concern".
func (q *MainQueue) Pick() *MainQueueJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil
	}
	entry := heap.Pop(&q.h).(*mainQueueEntry)
	return entry.job
}

// Len returns the number of jobs currently queued.
func (q *MainQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
