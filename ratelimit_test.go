package server

import (
	"testing"
	"time"
)

func TestPatchLimiterCooldown(t *testing.T) {
	limiter := newPatchLimiter(200 * time.Millisecond)
	now := time.Unix(1000, 0)

	if !limiter.allow("conn-a", now) {
		t.Fatalf("first submission should pass")
	}
	if limiter.allow("conn-a", now.Add(50*time.Millisecond)) {
		t.Fatalf("submission inside cooldown should be dropped")
	}
	if limiter.allow("conn-a", now.Add(199*time.Millisecond)) {
		t.Fatalf("submission at cooldown boundary should be dropped")
	}
	if !limiter.allow("conn-a", now.Add(200*time.Millisecond)) {
		t.Fatalf("submission after cooldown should pass")
	}
}

func TestPatchLimiterDeniedAttemptsDoNotExtendWindow(t *testing.T) {
	limiter := newPatchLimiter(200 * time.Millisecond)
	now := time.Unix(1000, 0)

	limiter.allow("conn-a", now)
	// A burst of denied attempts must not push the next accept further out.
	for i := 1; i <= 3; i++ {
		limiter.allow("conn-a", now.Add(time.Duration(i*50)*time.Millisecond))
	}
	if !limiter.allow("conn-a", now.Add(210*time.Millisecond)) {
		t.Fatalf("denied attempts extended the cooldown window")
	}
}

func TestPatchLimiterPerConnection(t *testing.T) {
	limiter := newPatchLimiter(200 * time.Millisecond)
	now := time.Unix(1000, 0)

	limiter.allow("conn-a", now)
	if !limiter.allow("conn-b", now.Add(10*time.Millisecond)) {
		t.Fatalf("cooldown must be tracked per connection")
	}
}

func TestPatchLimiterForget(t *testing.T) {
	limiter := newPatchLimiter(200 * time.Millisecond)
	now := time.Unix(1000, 0)

	limiter.allow("conn-a", now)
	limiter.forget("conn-a")
	if !limiter.allow("conn-a", now.Add(10*time.Millisecond)) {
		t.Fatalf("expected fresh window after forget")
	}
}
