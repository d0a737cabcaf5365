package gateway

import (
	"testing"
	"time"
)

func TestTokenBucket_BurstThenDeny(t *testing.T) {
	tb := newTokenBucket(60, 3)
	for i := 0; i < 3; i++ {
		if !tb.allow() {
			t.Fatalf("request %d within burst denied", i)
		}
	}
	if tb.allow() {
		t.Fatalf("request beyond burst allowed")
	}
}

func TestTokenBucket_Refills(t *testing.T) {
	tb := newTokenBucket(6000, 1) // 100 tokens/sec
	if !tb.allow() {
		t.Fatalf("first request denied")
	}
	if tb.allow() {
		t.Fatalf("empty bucket allowed")
	}
	time.Sleep(50 * time.Millisecond)
	if !tb.allow() {
		t.Fatalf("bucket did not refill")
	}
}

func TestRateLimiter_PerKeyIsolation(t *testing.T) {
	rl := newRateLimiter(60, 1)
	if !rl.allow("agent_a") {
		t.Fatalf("agent_a first request denied")
	}
	if rl.allow("agent_a") {
		t.Fatalf("agent_a should be exhausted")
	}
	if !rl.allow("agent_b") {
		t.Fatalf("agent_b must have its own bucket")
	}
}

func TestRateLimiter_EvictStale(t *testing.T) {
	rl := newRateLimiter(60, 1)
	rl.allow("agent_a")
	rl.allow("agent_b")
	if rl.count() != 2 {
		t.Fatalf("bucket count: %d", rl.count())
	}
	if n := rl.evictStale(0); n != 2 {
		t.Fatalf("evicted: %d", n)
	}
	if rl.count() != 0 {
		t.Fatalf("buckets remain after eviction: %d", rl.count())
	}
}
