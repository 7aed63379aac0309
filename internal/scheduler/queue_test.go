package scheduler

import "testing"

func TestMainQueuePicksLowestPriority(t *testing.T) {
	q := NewMainQueue()
	q.Push(&MainQueueJob{JobID: "a", Priority: 50})
	q.Push(&MainQueueJob{JobID: "b", Priority: 10})
	q.Push(&MainQueueJob{JobID: "c", Priority: 90})

	first := q.Pick()
	if first == nil || first.JobID != "b" {
		t.Fatalf("expected job b (priority 10) first, got %+v", first)
	}
	second := q.Pick()
	if second == nil || second.JobID != "a" {
		t.Fatalf("expected job a (priority 50) second, got %+v", second)
	}
	third := q.Pick()
	if third == nil || third.JobID != "c" {
		t.Fatalf("expected job c (priority 90) third, got %+v", third)
	}
	if q.Pick() != nil {
		t.Fatalf("expected nil from an empty queue")
	}
}

func TestMainQueueTieBreaksByInsertionOrder(t *testing.T) {
	q := NewMainQueue()
	q.Push(&MainQueueJob{JobID: "first", Priority: 5})
	q.Push(&MainQueueJob{JobID: "second", Priority: 5})
	q.Push(&MainQueueJob{JobID: "third", Priority: 5})

	for _, want := range []string{"first", "second", "third"} {
		got := q.Pick()
		if got == nil || got.JobID != want {
			t.Fatalf("expected %s next, got %+v", want, got)
		}
	}
}

func TestMainQueueLen(t *testing.T) {
	q := NewMainQueue()
	if q.Len() != 0 {
		t.Fatalf("expected empty queue to have len 0")
	}
	q.Push(&MainQueueJob{JobID: "a", Priority: 1})
	q.Push(&MainQueueJob{JobID: "b", Priority: 2})
	if q.Len() != 2 {
		t.Fatalf("expected len 2, got %d", q.Len())
	}
	q.Pick()
	if q.Len() != 1 {
		t.Fatalf("expected len 1 after one pick, got %d", q.Len())
	}
}
