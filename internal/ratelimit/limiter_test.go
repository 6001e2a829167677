package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryAdmitsCapThenRejects(t *testing.T) {
	const (
		limit  = 10
		window = 10 * time.Second
	)
	l := NewMemory(limit, window)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	admitted := map[string]int{}
	for i := 0; i < limit+1; i++ {
		now := base.Add(time.Duration(i) * 100 * time.Millisecond)
		// Both senders interleave and each is counted against its own window only.
		for _, sender := range []string{"bob", "alice"} {
			ok, err := l.Allow(ctx, sender, now)
			if err != nil {
				t.Fatalf("allow %s: %v", sender, err)
			}
			if ok {
				admitted[sender]++
			} else if i != limit {
				t.Fatalf("%s rejected at %d", sender, i)
			}
		}
	}

	for _, sender := range []string{"alice", "bob"} {
		if admitted[sender] != limit {
			t.Fatalf("%s: expected %d admissions and 1 rejection, got %d admissions", sender, limit, admitted[sender])
		}
	}
}

func TestMemoryPrunesOutOfOrderStamps(t *testing.T) {
	l := NewMemory(2, time.Second)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	// Two connections of one user stamp their sends slightly out of order.
	for _, at := range []time.Duration{500 * time.Millisecond, 0} {
		if ok, _ := l.Allow(ctx, "alice", base.Add(at)); !ok {
			t.Fatalf("send at %v rejected", at)
		}
	}

	// At 1.2s only the 0.5s stamp is still inside the window.
	if ok, _ := l.Allow(ctx, "alice", base.Add(1200*time.Millisecond)); !ok {
		t.Fatalf("expired stamp behind a newer one still counted")
	}
	if ok, _ := l.Allow(ctx, "alice", base.Add(1300*time.Millisecond)); ok {
		t.Fatalf("expected rejection with two stamps in window")
	}
}

func TestMemoryWindowSlides(t *testing.T) {
	l := NewMemory(2, time.Second)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	mustAllow := func(at time.Duration, want bool) {
		t.Helper()
		got, _ := l.Allow(ctx, "alice", base.Add(at))
		if got != want {
			t.Fatalf("Allow at %v = %v, want %v", at, got, want)
		}
	}

	mustAllow(0, true)
	mustAllow(500*time.Millisecond, true)
	mustAllow(900*time.Millisecond, false)
	// First stamp leaves the window exactly one window later.
	mustAllow(time.Second, true)
	mustAllow(1200*time.Millisecond, false)
	mustAllow(1500*time.Millisecond, true)
}

func TestMemoryRejectionIsNotRecorded(t *testing.T) {
	l := NewMemory(1, time.Second)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	if ok, _ := l.Allow(ctx, "a", base); !ok {
		t.Fatal("first message must be admitted")
	}
	for i := 1; i < 10; i++ {
		if ok, _ := l.Allow(ctx, "a", base.Add(time.Duration(i)*50*time.Millisecond)); ok {
			t.Fatalf("message %d must be rejected", i)
		}
	}
	if ok, _ := l.Allow(ctx, "a", base.Add(time.Second)); !ok {
		t.Fatal("rejections must not extend the window")
	}
}

func TestMemoryDisabled(t *testing.T) {
	l := NewMemory(0, time.Second)
	for i := 0; i < 100; i++ {
		if ok, _ := l.Allow(context.Background(), "a", time.Now()); !ok {
			t.Fatal("disabled limiter must admit everything")
		}
	}
}

func TestMemoryForget(t *testing.T) {
	l := NewMemory(5, time.Second)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	_, _ = l.Allow(ctx, "old", base)
	_, _ = l.Allow(ctx, "fresh", base.Add(900*time.Millisecond))

	if removed := l.Forget(base.Add(1500 * time.Millisecond)); removed != 1 {
		t.Fatalf("expected 1 sender forgotten, got %d", removed)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 tracked sender, got %d", l.Len())
	}
}

func TestMemoryConcurrentSenders(t *testing.T) {
	const limit = 10
	l := NewMemory(limit, time.Minute)
	ctx := context.Background()
	now := time.Now()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow(ctx, "shared", now); ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != limit {
		t.Fatalf("expected exactly %d admissions, got %d", limit, admitted.Load())
	}
}

func TestNewRedis(t *testing.T) {
	// NewRedis should work with nil client for unit testing
	l := NewRedis(nil, "test:", 10, 10*time.Second)

	if l == nil {
		t.Fatal("NewRedis returned nil")
	}
	if l.keyPrefix != "test:" || l.limit != 10 {
		t.Fatalf("unexpected limiter: %+v", l)
	}
}

func TestRedisDisabledSkipsBackend(t *testing.T) {
	l := NewRedis(nil, "test:", 0, time.Second)
	ok, err := l.Allow(context.Background(), "a", time.Now())
	if err != nil || !ok {
		t.Fatalf("disabled limiter must admit without touching redis, got %v %v", ok, err)
	}
}
