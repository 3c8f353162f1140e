package counter

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStoreSlidingWindow(t *testing.T) {
	s := NewMemoryStore()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Incr(ctx, "tenant-1:user-1", time.Minute); err != nil {
			t.Fatal(err)
		}
	}
	n, _ := s.Count(ctx, "tenant-1:user-1", time.Minute)
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}

	// Events outside the trailing window stop counting.
	now = now.Add(61 * time.Second)
	n, _ = s.Count(ctx, "tenant-1:user-1", time.Minute)
	if n != 0 {
		t.Errorf("count after window = %d, want 0", n)
	}

	// A fresh event starts a new window.
	n, _ = s.Incr(ctx, "tenant-1:user-1", time.Minute)
	if n != 1 {
		t.Errorf("incr after expiry = %d, want 1", n)
	}
}

func TestMemoryStorePartialExpiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	s.Incr(ctx, "k", time.Minute)
	now = now.Add(40 * time.Second)
	s.Incr(ctx, "k", time.Minute)
	now = now.Add(30 * time.Second)

	// First event is 70s old, second is 30s old.
	n, _ := s.Count(ctx, "k", time.Minute)
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestMemoryStoreKeysIsolated(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Incr(ctx, "a", time.Minute)
	s.Incr(ctx, "a", time.Minute)
	s.Incr(ctx, "b", time.Minute)

	na, _ := s.Count(ctx, "a", time.Minute)
	nb, _ := s.Count(ctx, "b", time.Minute)
	if na != 2 || nb != 1 {
		t.Errorf("counts = %d, %d", na, nb)
	}
}

func TestMemoryStoreQuota(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	total, _ := s.AddQuota(ctx, "tool:t1", 5)
	if total != 5 {
		t.Errorf("total = %d", total)
	}
	total, _ = s.AddQuota(ctx, "tool:t1", 1)
	if total != 6 {
		t.Errorf("total = %d", total)
	}
	// Rollback.
	total, _ = s.AddQuota(ctx, "tool:t1", -1)
	if total != 5 {
		t.Errorf("total after rollback = %d", total)
	}
	q, _ := s.Quota(ctx, "tool:t1")
	if q != 5 {
		t.Errorf("quota = %d", q)
	}
}

func TestMemoryStoreConcurrentIncr(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Incr(ctx, "hot", time.Minute)
		}()
	}
	wg.Wait()

	n, _ := s.Count(ctx, "hot", time.Minute)
	if n != 50 {
		t.Errorf("count = %d, want 50", n)
	}
}

func TestKey(t *testing.T) {
	if got := Key("rate", "tenant-1", "user-2"); got != "rate:tenant-1:user-2" {
		t.Errorf("Key = %q", got)
	}
}
