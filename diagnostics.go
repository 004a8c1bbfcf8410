package server

// diagnosticsSession summarizes one live session for the diagnostics
// endpoint. Counters reflect activity since the session entered memory.
type diagnosticsSession struct {
	ID             string `json:"id"`
	Subscribers    int    `json:"subscribers"`
	HasSnapshot    bool   `json:"hasSnapshot"`
	HeldLocks      int    `json:"heldLocks"`
	PatchesApplied uint64 `json:"patchesApplied"`
	FullsApplied   uint64 `json:"fullsApplied"`
	LastActive     int64  `json:"lastActive"`
}

// DiagnosticsSnapshot reports per-session liveness data.
func (h *Hub) DiagnosticsSnapshot() []diagnosticsSession {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.mu.Unlock()

	now := h.clock.Now()
	out := make([]diagnosticsSession, 0, len(sessions))
	for _, sess := range sessions {
		sess.mu.Lock()
		held := 0
		for roomID := range sess.locks.locks {
			if _, ok := sess.locks.holder(roomID, now); ok {
				held++
			}
		}
		out = append(out, diagnosticsSession{
			ID:             sess.id,
			Subscribers:    len(sess.subscribers),
			HasSnapshot:    sess.snapshot != nil,
			HeldLocks:      held,
			PatchesApplied: sess.patchesApplied,
			FullsApplied:   sess.fullsApplied,
			LastActive:     sess.lastActive.UnixMilli(),
		})
		sess.mu.Unlock()
	}
	return out
}

// TelemetrySnapshot exposes the process-wide counters.
func (h *Hub) TelemetrySnapshot() telemetrySnapshot {
	return h.telemetry.Snapshot()
}
