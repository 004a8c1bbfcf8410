package server

import "time"

// lockState records a live claim on one room.
type lockState struct {
	heldBy     string
	acquiredAt time.Time
}

// lockTable provides per-room mutual-exclusion leases with a bounded
// lifetime. Holds older than the TTL are treated as abandoned: a crashed or
// disconnected holder never wedges a room. The table is not safe for
// concurrent use; the owning session serializes access.
type lockTable struct {
	ttl   time.Duration
	locks map[string]lockState
}

func newLockTable(ttl time.Duration) *lockTable {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &lockTable{ttl: ttl, locks: make(map[string]lockState)}
}

// acquire claims the room for holder. It succeeds when the room is free,
// already held by the same holder, or held by a lease past its TTL. The
// caller cannot distinguish "never held" from "just expired".
func (t *lockTable) acquire(roomID, holder string, now time.Time) bool {
	existing, held := t.locks[roomID]
	if held && existing.heldBy != holder && now.Sub(existing.acquiredAt) < t.ttl {
		return false
	}
	t.locks[roomID] = lockState{heldBy: holder, acquiredAt: now}
	return true
}

// release clears the room unconditionally. There is no ownership check; the
// trust model is a small cooperative team, not a Byzantine one.
func (t *lockTable) release(roomID string) {
	delete(t.locks, roomID)
}

// holder reports the current non-expired holder of a room.
func (t *lockTable) holder(roomID string, now time.Time) (string, bool) {
	existing, held := t.locks[roomID]
	if !held || now.Sub(existing.acquiredAt) >= t.ttl {
		return "", false
	}
	return existing.heldBy, true
}

// sweep drops every lease past its TTL and returns the cleared room ids so
// the hub can broadcast the transitions.
func (t *lockTable) sweep(now time.Time) []string {
	var cleared []string
	for roomID, state := range t.locks {
		if now.Sub(state.acquiredAt) >= t.ttl {
			delete(t.locks, roomID)
			cleared = append(cleared, roomID)
		}
	}
	return cleared
}
