package server

import (
	"testing"
	"time"
)

func TestLockMutualExclusion(t *testing.T) {
	table := newLockTable(10 * time.Second)
	now := time.Unix(1000, 0)

	if !table.acquire("vault", "navigator", now) {
		t.Fatalf("expected free room to be acquirable")
	}
	if table.acquire("vault", "engineer", now.Add(5*time.Second)) {
		t.Fatalf("expected second role to be denied while hold is live")
	}
	if holder, ok := table.holder("vault", now.Add(5*time.Second)); !ok || holder != "navigator" {
		t.Fatalf("expected navigator to still hold the room, got %q ok=%v", holder, ok)
	}
}

func TestLockIdempotentReacquire(t *testing.T) {
	table := newLockTable(10 * time.Second)
	now := time.Unix(1000, 0)

	if !table.acquire("vault", "navigator", now) {
		t.Fatalf("initial acquire failed")
	}
	if !table.acquire("vault", "navigator", now.Add(3*time.Second)) {
		t.Fatalf("expected same holder to re-acquire")
	}
	// Re-acquire refreshes the lease.
	if _, ok := table.holder("vault", now.Add(12*time.Second)); !ok {
		t.Fatalf("expected refreshed lease to still be live at +12s")
	}
}

func TestLockExpiryTakeover(t *testing.T) {
	table := newLockTable(10 * time.Second)
	now := time.Unix(1000, 0)

	if !table.acquire("vault", "navigator", now) {
		t.Fatalf("initial acquire failed")
	}
	if table.acquire("vault", "engineer", now.Add(9*time.Second)) {
		t.Fatalf("expected takeover before expiry to fail")
	}
	if !table.acquire("vault", "engineer", now.Add(11*time.Second)) {
		t.Fatalf("expected abandoned hold to be silently reassigned")
	}
	if holder, _ := table.holder("vault", now.Add(11*time.Second)); holder != "engineer" {
		t.Fatalf("expected engineer to hold after takeover, got %q", holder)
	}
}

func TestLockReleaseUnconditional(t *testing.T) {
	table := newLockTable(10 * time.Second)
	now := time.Unix(1000, 0)

	table.acquire("vault", "navigator", now)
	table.release("vault")
	if !table.acquire("vault", "engineer", now.Add(time.Second)) {
		t.Fatalf("expected released room to be free for anyone")
	}

	// Releasing a room that was never held is a no-op.
	table.release("lab")
}

func TestLockSweep(t *testing.T) {
	table := newLockTable(10 * time.Second)
	now := time.Unix(1000, 0)

	table.acquire("vault", "navigator", now)
	table.acquire("lab", "engineer", now.Add(8*time.Second))

	cleared := table.sweep(now.Add(11 * time.Second))
	if len(cleared) != 1 || cleared[0] != "vault" {
		t.Fatalf("expected only the vault lease to be swept, got %v", cleared)
	}
	if _, ok := table.holder("lab", now.Add(11*time.Second)); !ok {
		t.Fatalf("expected lab lease to survive the sweep")
	}
	if len(table.sweep(now.Add(11*time.Second))) != 0 {
		t.Fatalf("expected repeated sweep to clear nothing")
	}
}
