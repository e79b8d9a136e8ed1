package ratelimit

import (
	"testing"
	"time"
)

func TestTokenBucket(t *testing.T) {
	bucket := NewTokenBucket(2, 5) // 2 tokens per second, capacity of 5

	// Initial tokens should be at capacity.
	for i := 0; i < 5; i++ {
		if !bucket.Allow() {
			t.Errorf("Expected initial request %d to be allowed", i)
		}
	}
	if bucket.Allow() {
		t.Error("Expected request to be denied when bucket is empty")
	}

	// Wait slightly more than a second for a refill.
	time.Sleep(1100 * time.Millisecond)
	if !bucket.Allow() {
		t.Error("Expected request to be allowed after token refill")
	}
	if !bucket.Allow() {
		t.Error("Expected second request to be allowed after token refill")
	}
	if bucket.Allow() {
		t.Error("Expected third request to be denied")
	}
}

func TestConnLimiterPerSource(t *testing.T) {
	cl := NewConnLimiter(0, 2, 3) // global off; 2 conn/s per source, burst 3

	src := "203.0.113.7"
	for i := 0; i < 3; i++ {
		if !cl.Allow(src) {
			t.Errorf("Expected connection %d from %s to be allowed", i, src)
		}
	}
	if cl.Allow(src) {
		t.Error("Expected connection beyond burst to be denied")
	}

	// A different source has its own bucket.
	if !cl.Allow("203.0.113.8") {
		t.Error("Expected connection from a different source to be allowed")
	}
}

func TestConnLimiterGlobal(t *testing.T) {
	cl := NewConnLimiter(2, 0, 2) // global 2 conn/s, per-source off, burst 2

	if !cl.Allow("a") {
		t.Error("Expected first global connection to be allowed")
	}
	if !cl.Allow("b") {
		t.Error("Expected second global connection to be allowed")
	}
	if cl.Allow("c") {
		t.Error("Expected connection to be denied by the global limit")
	}
}

func TestConnLimiterDisabled(t *testing.T) {
	cl := NewConnLimiter(0, 0, 5)
	for i := 0; i < 100; i++ {
		if !cl.Allow("anyone") {
			t.Errorf("Expected connection %d to be allowed when limits disabled", i)
		}
	}
}

func TestConnLimiterSweep(t *testing.T) {
	cl := NewConnLimiter(0, 1, 1)
	cl.Allow("one")
	cl.Allow("two")
	if len(cl.perSource) != 2 {
		t.Fatalf("Expected 2 source buckets, got %d", len(cl.perSource))
	}

	// Nothing is idle yet.
	if removed := cl.Sweep(time.Minute); removed != 0 {
		t.Errorf("Expected no buckets removed, got %d", removed)
	}

	time.Sleep(20 * time.Millisecond)
	cl.Allow("one") // refresh
	if removed := cl.Sweep(10 * time.Millisecond); removed != 1 {
		t.Errorf("Expected 1 idle bucket removed, got %d", removed)
	}
	if _, exists := cl.perSource["one"]; !exists {
		t.Error("Expected recently used bucket to survive the sweep")
	}
	if _, exists := cl.perSource["two"]; exists {
		t.Error("Expected idle bucket to be swept")
	}
}
