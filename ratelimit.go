package server

import "time"

// patchLimiter enforces a per-connection cooldown between accepted state
// submissions. It is a plain cooldown, not a leaky bucket: burst capacity is
// exactly one submission per interval per connection. Not safe for concurrent
// use; the owning session serializes access.
type patchLimiter struct {
	cooldown time.Duration
	last     map[string]time.Time
}

func newPatchLimiter(cooldown time.Duration) *patchLimiter {
	if cooldown <= 0 {
		cooldown = defaultPatchCooldown
	}
	return &patchLimiter{cooldown: cooldown, last: make(map[string]time.Time)}
}

// allow reports whether a submission from the connection may proceed and, if
// so, records it. Denied submissions leave the window untouched so the
// client's next attempt after the cooldown succeeds.
func (l *patchLimiter) allow(connID string, now time.Time) bool {
	if last, ok := l.last[connID]; ok && now.Sub(last) < l.cooldown {
		return false
	}
	l.last[connID] = now
	return true
}

// forget drops the tracking entry for a departed connection.
func (l *patchLimiter) forget(connID string) {
	delete(l.last, connID)
}
