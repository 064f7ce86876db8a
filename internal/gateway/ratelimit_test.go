package gateway

import (
	"fmt"
	"testing"
)

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	if rl.Enabled() {
		t.Error("rpm 0 must disable limiting")
	}
	for i := 0; i < 1000; i++ {
		if !rl.Allow("client") {
			t.Fatalf("disabled limiter denied request %d", i)
		}
	}
}

func TestRateLimiterBurstThenDeny(t *testing.T) {
	rl := NewRateLimiter(60, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow("client") {
			t.Fatalf("request %d within burst denied", i)
		}
	}
	// Burst exhausted, refill is 1/s.
	if rl.Allow("client") {
		t.Error("request past burst allowed")
	}
}

func TestRateLimiterKeysIndependent(t *testing.T) {
	rl := NewRateLimiter(60, 1)

	if !rl.Allow("a") {
		t.Fatal("first request for a denied")
	}
	if rl.Allow("a") {
		t.Error("second request for a allowed")
	}
	if !rl.Allow("b") {
		t.Error("fresh key b denied")
	}
}

func TestRateLimiterForgetResets(t *testing.T) {
	rl := NewRateLimiter(60, 1)

	rl.Allow("client")
	if rl.Allow("client") {
		t.Fatal("burst not exhausted")
	}

	rl.Forget("client")
	if !rl.Allow("client") {
		t.Error("forgotten key denied a fresh burst")
	}
}

func TestRateLimiterEvictsAtCapacity(t *testing.T) {
	rl := NewRateLimiter(60, 1)

	for i := 0; i < maxTrackedKeys+10; i++ {
		rl.Allow(fmt.Sprintf("key-%d", i))
	}

	rl.mu.Lock()
	n := len(rl.limiters)
	rl.mu.Unlock()
	if n > maxTrackedKeys {
		t.Errorf("tracked keys = %d, cap is %d", n, maxTrackedKeys)
	}
}

func TestNewRateLimiterMinimumBurst(t *testing.T) {
	rl := NewRateLimiter(60, 0)
	if !rl.Allow("client") {
		t.Error("burst clamped to 1 must still allow one request")
	}
}
