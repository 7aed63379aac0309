package queueservice

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStorePopReturnsLowestPriorityFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Push(ctx, "team-a", StoredJob{ID: "a", Priority: 50, CreatedAt: time.Now()})
	s.Push(ctx, "team-a", StoredJob{ID: "b", Priority: 10, CreatedAt: time.Now()})
	s.Push(ctx, "team-a", StoredJob{ID: "c", Priority: 90, CreatedAt: time.Now()})

	first, err := s.Pop(ctx, "team-a")
	if err != nil || first.ID != "b" {
		t.Fatalf("expected job b first, got %+v, err=%v", first, err)
	}
	second, err := s.Pop(ctx, "team-a")
	if err != nil || second.ID != "a" {
		t.Fatalf("expected job a second, got %+v, err=%v", second, err)
	}
}

func TestMemoryStoreTieBreaksByInsertionOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Push(ctx, "team-a", StoredJob{ID: "first", Priority: 5})
	s.Push(ctx, "team-a", StoredJob{ID: "second", Priority: 5})

	first, _ := s.Pop(ctx, "team-a")
	if first.ID != "first" {
		t.Fatalf("expected 'first' popped before 'second' on equal priority, got %s", first.ID)
	}
}

func TestMemoryStorePopOnEmptyQueueReturnsErrEmpty(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Pop(context.Background(), "no-such-team")
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestMemoryStoreReleaseRemovesQueuedJob(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Push(ctx, "team-a", StoredJob{ID: "a", Priority: 1})
	s.Push(ctx, "team-a", StoredJob{ID: "b", Priority: 2})

	if err := s.Release(ctx, "a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	count, _ := s.Count(ctx, "team-a")
	if count != 1 {
		t.Fatalf("expected count 1 after release, got %d", count)
	}
	remaining, _ := s.Pop(ctx, "team-a")
	if remaining.ID != "b" {
		t.Fatalf("expected remaining job to be b, got %s", remaining.ID)
	}
}

func TestMemoryStoreReleaseOfUnknownJobIsNoOp(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Release(context.Background(), "never-existed"); err != nil {
		t.Fatalf("expected no error releasing unknown job, got %v", err)
	}
}

func TestMemoryStoreActiveTracking(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.ActivePush(ctx, "team-a", "job-1")
	s.ActivePush(ctx, "team-a", "job-2")

	count, _ := s.ActiveCount(ctx, "team-a")
	if count != 2 {
		t.Fatalf("expected active count 2, got %d", count)
	}

	s.ActiveRemove(ctx, "team-a", "job-1")
	ids, _ := s.ActiveJobIDs(ctx, "team-a")
	if len(ids) != 1 || ids[0] != "job-2" {
		t.Fatalf("expected only job-2 active, got %v", ids)
	}
}

func TestMemoryStoreHealthyAlwaysNil(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Healthy(context.Background()); err != nil {
		t.Fatalf("expected nil health error, got %v", err)
	}
}
