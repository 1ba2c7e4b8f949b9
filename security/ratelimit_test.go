package security

import (
	"fmt"
	"testing"
	"time"
)

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(1, 3, nil)
	defer rl.Stop()

	for i := range 3 {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d within burst was rejected", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request beyond burst was allowed")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("other key was rejected")
	}
}

func TestRateLimiter_EvictsLeastRecentlyUsed(t *testing.T) {
	rl := NewRateLimiterWithConfig(1, 1, 2, nil)
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("c")

	if rl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", rl.Len())
	}
	// "a" was evicted, so it gets a fresh bucket
	if !rl.Allow("a") {
		t.Error("evicted key should start with a full bucket")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiterWithConfig(10, 10, 0, nil)
	defer rl.Stop()

	for i := range 5 {
		rl.Allow(fmt.Sprintf("key-%d", i))
	}
	rl.Cleanup(time.Hour)
	if rl.Len() != 5 {
		t.Errorf("Len() after cleanup of fresh keys = %d, want 5", rl.Len())
	}
	rl.Cleanup(-time.Second)
	if rl.Len() != 0 {
		t.Errorf("Len() after cleanup of idle keys = %d, want 0", rl.Len())
	}
}

func TestRateLimiter_StopIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.Stop()
	rl.Stop()
}
