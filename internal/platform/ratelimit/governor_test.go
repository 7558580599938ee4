package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestAcquireUnlimited(t *testing.T) {
	g := New(Options{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := g.Acquire(ctx); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	if el := time.Since(start); el > 500*time.Millisecond {
		t.Fatalf("unlimited governor should not throttle, took %v", el)
	}
}

func TestAcquireLocalBucketThrottles(t *testing.T) {
	// 600 rpm = one token every 100ms with burst 1
	g := New(Options{RequestsPerMinute: 600})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := g.Acquire(ctx); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	// first token is free, the next two wait ~100ms each
	if el := time.Since(start); el < 150*time.Millisecond {
		t.Fatalf("expected throttling, 3 acquisitions took %v", el)
	}
}

func TestAcquireCancelled(t *testing.T) {
	g := New(Options{RequestsPerMinute: 1})
	ctx, cancel := context.WithCancel(context.Background())
	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- g.Acquire(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("acquire did not unblock on cancel")
	}
}

func TestRetryAfterWindow(t *testing.T) {
	g := New(Options{})
	h := http.Header{}
	h.Set("Retry-After", "1")
	h.Set("X-RateLimit-Remaining", "0")
	g.NoteResponse(http.StatusForbidden, h)

	start := time.Now()
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if el := time.Since(start); el < 900*time.Millisecond {
		t.Fatalf("acquire should have waited the retry-after second, waited %v", el)
	}
}

func TestHourlyBudgetReserve(t *testing.T) {
	g := New(Options{Margin: 0.7})
	h := http.Header{}
	h.Set("X-RateLimit-Limit", "1000")
	h.Set("X-RateLimit-Remaining", "299") // floor is 300
	g.NoteResponse(http.StatusOK, h)

	// reset is in the past so acquire rolls the window instead of sleeping
	start := time.Now()
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if el := time.Since(start); el > 200*time.Millisecond {
		t.Fatalf("rolled over window should not sleep, took %v", el)
	}
	snap := g.Snapshot()
	if snap.Source != SourceServer {
		t.Fatalf("source = %q, want server", snap.Source)
	}
	if snap.Remaining != 999 {
		t.Fatalf("remaining after rollover+acquire = %d, want 999", snap.Remaining)
	}
}

func TestSnapshotSources(t *testing.T) {
	g := New(Options{RequestsPerMinute: 60})
	if s := g.Snapshot(); s.Source != SourceLocal {
		t.Fatalf("fresh governor source = %q", s.Source)
	}

	g = New(Options{MaxHourly: 500})
	if s := g.Snapshot(); s.Source != SourceEstimated || s.Limit != 500 {
		t.Fatalf("estimated snapshot = %+v", s)
	}

	h := http.Header{}
	h.Set("X-RateLimit-Limit", "5000")
	h.Set("X-RateLimit-Remaining", "4999")
	g.NoteResponse(http.StatusOK, h)
	if s := g.Snapshot(); s.Source != SourceServer || s.Used != 1 {
		t.Fatalf("server snapshot = %+v", s)
	}
}

func TestProbeFailureDegrades(t *testing.T) {
	g := New(Options{ProbeRetries: 2, RequestsPerMinute: 60})
	h := http.Header{}
	h.Set("X-RateLimit-Limit", "5000")
	h.Set("X-RateLimit-Remaining", "100")
	g.NoteResponse(http.StatusOK, h)

	g.NoteProbeFailure()
	if g.Snapshot().Source != SourceServer {
		t.Fatalf("one failure should not degrade")
	}
	g.NoteProbeFailure()
	if s := g.Snapshot(); s.Source != SourceLocal {
		t.Fatalf("source after degradation = %q, want local", s.Source)
	}
}

func TestQueueBacklogWidensInterval(t *testing.T) {
	// 1200 rpm = one token every 50ms; a backlog above the slack threshold
	// adds QueueMargin * interval on top of every acquisition
	g := New(Options{
		RequestsPerMinute: 1200,
		QueueMargin:       2.0,
		QueueSlack:        1,
		Outstanding:       func() int { return 5 },
	})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := g.Acquire(ctx); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	// three widened sleeps of ~100ms each dominate the bucket waits
	if el := time.Since(start); el < 250*time.Millisecond {
		t.Fatalf("backlog widening absent, 3 acquisitions took %v", el)
	}
}

func TestQueueBelowSlackDoesNotWiden(t *testing.T) {
	g := New(Options{
		RequestsPerMinute: 1200,
		QueueMargin:       2.0,
		QueueSlack:        10,
		Outstanding:       func() int { return 1 },
	})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := g.Acquire(ctx); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	// only the bucket waits apply: ~100ms total, nowhere near the widened path
	if el := time.Since(start); el > 250*time.Millisecond {
		t.Fatalf("slack not honoured, 3 acquisitions took %v", el)
	}
}
