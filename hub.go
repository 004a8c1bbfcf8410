package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"nightfall/server/logging"
	"nightfall/server/logging/sessionevt"
	"nightfall/server/logging/syncevt"
)

// conn is the subset of *websocket.Conn the hub writes to. Tests substitute
// in-memory fakes.
type conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// subscriber is one live connection on a session channel. Writes are
// serialized by the per-subscriber mutex so broadcasts and direct replies
// never interleave frames.
type subscriber struct {
	id   string
	role string
	conn conn
	mu   sync.Mutex
}

// session is the live, in-memory authoritative record for one session id.
// All fields behind mu; handlers for the same session serialize on it, which
// is the engine's whole concurrency story: no two mutations of one session's
// canonical snapshot or lock table ever run at once.
type session struct {
	id string

	mu             sync.Mutex
	snapshot       *Snapshot
	subscribers    map[string]*subscriber
	locks          *lockTable
	limiter        *patchLimiter
	drift          *driftTracker
	patchesApplied uint64
	fullsApplied   uint64
	lastActive     time.Time
	coldLoaded     bool
}

// HubConfig carries the tunables for a hub. Zero fields fall back to the
// defaults in constants.go.
type HubConfig struct {
	PatchCooldown  time.Duration
	LockTTL        time.Duration
	SweepInterval  time.Duration
	DriftThreshold float64
	IdleAfter      time.Duration
	Clock          logging.Clock
	Store          Store
	Publisher      logging.Publisher
	Registry       prometheus.Registerer
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		PatchCooldown:  defaultPatchCooldown,
		LockTTL:        defaultLockTTL,
		SweepInterval:  defaultSweepInterval,
		DriftThreshold: defaultDriftThreshold,
		IdleAfter:      defaultIdleAfter,
	}
}

// Hub is the session registry and the single broadcast fan-out path. It owns
// every live session record; connections only ever receive serialized copies.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*session

	cfg       HubConfig
	store     Store
	pub       logging.Publisher
	clock     logging.Clock
	telemetry *telemetryCounters
}

func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

func NewHubWithConfig(cfg HubConfig) *Hub {
	if cfg.PatchCooldown <= 0 {
		cfg.PatchCooldown = defaultPatchCooldown
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = defaultDriftThreshold
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = defaultIdleAfter
	}
	if cfg.Clock == nil {
		cfg.Clock = logging.SystemClock{}
	}
	if cfg.Store == nil {
		cfg.Store = NopStore{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	return &Hub{
		sessions:  make(map[string]*session),
		cfg:       cfg,
		store:     cfg.Store,
		pub:       cfg.Publisher,
		clock:     cfg.Clock,
		telemetry: newTelemetryCounters(cfg.Registry),
	}
}

// getOrCreate returns the live session record, creating an empty shell when
// none exists. Join requests never fail due to session absence.
func (h *Hub) getOrCreate(sessionID string) *session {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sess, ok := h.sessions[sessionID]; ok {
		return sess
	}
	sess := &session{
		id:          sessionID,
		subscribers: make(map[string]*subscriber),
		locks:       newLockTable(h.cfg.LockTTL),
		limiter:     newPatchLimiter(h.cfg.PatchCooldown),
		drift:       newDriftTracker(h.cfg.DriftThreshold),
		lastActive:  h.clock.Now(),
	}
	h.sessions[sessionID] = sess
	return sess
}

// Join subscribes a connection to a session channel and answers with the
// cached snapshot, a cold-loaded one, or a heartbeat when no state exists
// yet. The cold load is the only awaited I/O on the channel, and only this
// session blocks while it runs.
func (h *Hub) Join(ctx context.Context, sessionID, connID, role string, c conn) {
	now := h.clock.Now()
	sess := h.getOrCreate(sessionID)

	sub := &subscriber{id: connID, role: role, conn: c}

	sess.mu.Lock()
	sess.lastActive = now
	if existing, ok := sess.subscribers[connID]; ok {
		existing.conn.Close()
	}
	sess.subscribers[connID] = sub
	if sess.snapshot == nil && !sess.coldLoaded {
		h.coldLoadLocked(ctx, sess)
	}
	reply := sess.stateMessageLocked(now)
	sess.mu.Unlock()

	h.send(sess, sub, reply)
	sessionevt.Joined(ctx, h.pub, sessionID, participantRef(connID), sessionevt.JoinPayload{Role: role})
	h.appendEventAsync(sessionID, "join", mustJSON(map[string]any{"role": role}))
}

// coldLoadLocked recovers durable state for a session that has none in
// memory. A failed or invalid load degrades to heartbeat-only; the loaded
// value must pass the same validation as a client submission.
func (h *Hub) coldLoadLocked(ctx context.Context, sess *session) {
	sess.coldLoaded = true
	raw, found, err := h.store.ColdLoad(ctx, sess.id)
	if err != nil {
		sessionevt.ColdLoadFailed(ctx, h.pub, sess.id, err)
		return
	}
	if !found {
		return
	}
	snap, ok := DecodeSnapshot(raw)
	if !ok {
		sessionevt.ColdLoadRejected(ctx, h.pub, sess.id)
		return
	}
	sess.snapshot = &snap
	if data, err := snap.encoded(); err == nil {
		sess.drift.noteFull(len(data))
	}
	h.telemetry.RecordColdLoad()
	sessionevt.ColdLoaded(ctx, h.pub, sess.id, sessionevt.ColdLoadPayload{Bytes: len(raw)})
}

// stateMessageLocked builds the full-or-heartbeat state reply for one
// connection. Requires sess.mu.
func (sess *session) stateMessageLocked(now time.Time) stateMessage {
	if sess.snapshot == nil {
		return stateMessage{Type: "state", Heartbeat: true, ServerTime: now.UnixMilli()}
	}
	snap := *sess.snapshot
	return stateMessage{Type: "state", Full: true, Snapshot: &snap, ServerTime: now.UnixMilli()}
}

// RequestFull answers an explicit client request for the current canonical
// state, addressed to the requesting connection only.
func (h *Hub) RequestFull(ctx context.Context, sessionID, connID string) {
	now := h.clock.Now()
	sess := h.getOrCreate(sessionID)

	sess.mu.Lock()
	sess.lastActive = now
	sub := sess.subscribers[connID]
	reply := sess.stateMessageLocked(now)
	sess.mu.Unlock()

	if sub != nil {
		h.send(sess, sub, reply)
	}
}

// SubmitFull handles a client-proposed canonical full state. The rate
// limiter gates it like any other state change; validation failures leave
// canonical state untouched and notify only the origin.
func (h *Hub) SubmitFull(ctx context.Context, sessionID, connID string, raw json.RawMessage, ts int64) {
	now := h.clock.Now()
	sess := h.getOrCreate(sessionID)

	sess.mu.Lock()
	sess.lastActive = now
	if !sess.limiter.allow(connID, now) {
		sess.mu.Unlock()
		h.telemetry.RecordPatchThrottled()
		return
	}
	sub := sess.subscribers[connID]
	snap, ok := DecodeSnapshot(raw)
	if !ok {
		sess.mu.Unlock()
		h.telemetry.RecordSnapshotRejected()
		syncevt.SnapshotRejected(ctx, h.pub, sessionID, participantRef(connID))
		if sub != nil {
			h.send(sess, sub, stateRejectMessage{Type: "state_reject", Reason: rejectInvalidSnapshot})
		}
		return
	}
	if snap.TS == 0 {
		if ts != 0 {
			snap.TS = ts
		} else {
			snap.TS = now.UnixMilli()
		}
	}
	sess.snapshot = &snap
	sess.fullsApplied++
	data, err := snap.encoded()
	if err == nil {
		sess.drift.noteFull(len(data))
	}
	sess.mu.Unlock()

	h.telemetry.RecordSnapshotAccepted()
	syncevt.SnapshotAccepted(ctx, h.pub, sessionID, participantRef(connID), syncevt.SnapshotPayload{Bytes: len(data)})
	h.broadcast(sess, stateMessage{Type: "state", Full: true, Snapshot: &snap, ServerTime: now.UnixMilli()})
	h.checkpointAsync(sessionID, data)
	h.appendEventAsync(sessionID, "state_diff_full", raw)
}

// SubmitPatch handles a partial update. Throttled submissions are dropped
// silently; disallowed keys reject the whole patch with no partial
// application; an accepted patch is merged, broadcast, checkpointed, and may
// additionally trigger a drift resync request to the origin.
func (h *Hub) SubmitPatch(ctx context.Context, sessionID, connID string, raw json.RawMessage, ts int64) {
	now := h.clock.Now()
	sess := h.getOrCreate(sessionID)

	var patch map[string]any
	if err := json.Unmarshal(raw, &patch); err != nil || patch == nil {
		return
	}

	sess.mu.Lock()
	sess.lastActive = now
	if !sess.limiter.allow(connID, now) {
		sess.mu.Unlock()
		h.telemetry.RecordPatchThrottled()
		return
	}
	sub := sess.subscribers[connID]
	if bad := disallowedPatchKeys(patch); len(bad) > 0 {
		sess.mu.Unlock()
		h.telemetry.RecordPatchRejected()
		syncevt.PatchRejected(ctx, h.pub, sessionID, participantRef(connID), syncevt.RejectPayload{Keys: bad})
		if sub != nil {
			h.send(sess, sub, stateRejectMessage{Type: "state_reject", Reason: rejectInvalidKeys, Keys: bad})
		}
		return
	}

	base := Snapshot{}
	if sess.snapshot != nil {
		base = *sess.snapshot
	}
	next := base.applyPatch(patch, ts, now)
	sess.snapshot = &next
	sess.patchesApplied++
	signal, drifted := sess.drift.notePatch(len(raw))
	data, _ := next.encoded()
	sess.mu.Unlock()

	h.telemetry.RecordPatchApplied()
	h.broadcast(sess, stateMessage{Type: "state", Patch: raw, ServerTime: now.UnixMilli()})
	if drifted {
		h.telemetry.RecordResyncRequest()
		syncevt.DriftResync(ctx, h.pub, sessionID, participantRef(connID), syncevt.DriftPayload{Ratio: signal.Ratio})
		if sub != nil {
			h.send(sess, sub, requestFullMessage{Type: "request_full", Reason: resyncReasonInefficientDiffs, Ratio: signal.Ratio})
		}
	}
	h.checkpointAsync(sessionID, data)
	h.appendEventAsync(sessionID, "state_diff_patch", raw)
}

// Chat appends a message to the bounded chat window (when canonical state
// exists) and fans it out to the whole channel.
func (h *Hub) Chat(ctx context.Context, sessionID, connID, message string, ts int64) {
	now := h.clock.Now()
	sess := h.getOrCreate(sessionID)
	if ts == 0 {
		ts = now.UnixMilli()
	}

	sess.mu.Lock()
	sess.lastActive = now
	role := ""
	if sub := sess.subscribers[connID]; sub != nil {
		role = sub.role
	}
	entry := map[string]any{"role": role, "message": message, "ts": float64(ts)}
	if sess.snapshot != nil {
		next := sess.snapshot.appendChat([]any{entry})
		sess.snapshot = &next
	}
	sess.mu.Unlock()

	h.broadcast(sess, chatBroadcast{Type: "chat", Role: role, Message: message, TS: ts})
	h.appendEventAsync(sessionID, "chat", mustJSON(entry))
}

// RoomCompleted relays a room milestone to the whole channel.
func (h *Hub) RoomCompleted(ctx context.Context, sessionID, connID, roomID string, ts int64) {
	now := h.clock.Now()
	sess := h.getOrCreate(sessionID)
	if ts == 0 {
		ts = now.UnixMilli()
	}

	sess.mu.Lock()
	sess.lastActive = now
	sess.mu.Unlock()

	h.broadcast(sess, roomCompletedBroadcast{Type: "room_completed", RoomID: roomID, TS: ts})
	h.appendEventAsync(sessionID, "room_completed", mustJSON(map[string]any{"roomId": roomID, "ts": ts}))
}

// Lock handles acquire/release requests. The result goes to the requesting
// connection only; successful transitions are broadcast to the channel.
func (h *Hub) Lock(ctx context.Context, sessionID, connID, roomID, action, role string) {
	now := h.clock.Now()
	sess := h.getOrCreate(sessionID)

	sess.mu.Lock()
	sess.lastActive = now
	sub := sess.subscribers[connID]
	var success bool
	switch action {
	case "acquire":
		success = sess.locks.acquire(roomID, role, now)
	case "release":
		sess.locks.release(roomID)
		success = true
	}
	sess.mu.Unlock()

	if sub != nil {
		h.send(sess, sub, lockResultMessage{Type: "lock_result", RoomID: roomID, Success: success})
	}
	if !success {
		return
	}
	var by *string
	if action == "acquire" {
		by = &role
	}
	h.broadcast(sess, lockUpdateMessage{Type: "lock_update", RoomID: roomID, By: by})
	h.appendEventAsync(sessionID, "lock", mustJSON(map[string]any{"roomId": roomID, "action": action, "role": role}))
}

// Heartbeat records liveness and echoes the client timestamp back.
func (h *Hub) Heartbeat(sessionID, connID string, sentAt int64) {
	now := h.clock.Now()
	sess := h.getOrCreate(sessionID)

	sess.mu.Lock()
	sess.lastActive = now
	sub := sess.subscribers[connID]
	sess.mu.Unlock()

	if sub != nil {
		h.send(sess, sub, heartbeatMessage{Type: "heartbeat", ServerTime: now.UnixMilli(), ClientTime: sentAt})
	}
}

// Disconnect removes a connection from the session's participant set. Locks
// it held are not released here; they expire on the normal sweep cycle.
func (h *Hub) Disconnect(sessionID, connID string) {
	h.mu.Lock()
	sess, ok := h.sessions[sessionID]
	h.mu.Unlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	sub, subOK := sess.subscribers[connID]
	if subOK {
		delete(sess.subscribers, connID)
	}
	sess.limiter.forget(connID)
	sess.lastActive = h.clock.Now()
	sess.mu.Unlock()

	if subOK {
		sub.conn.Close()
		sessionevt.Left(context.Background(), h.pub, sessionID, participantRef(connID))
	}
}

// Run drives the periodic sweep until stop closes: expired lock leases are
// cleared and broadcast, and idle sessions are evicted from memory. Durable
// storage keeps their last snapshot regardless.
func (h *Hub) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	now := h.clock.Now()

	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.mu.Unlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		cleared := sess.locks.sweep(now)
		idle := len(sess.subscribers) == 0 && now.Sub(sess.lastActive) > h.cfg.IdleAfter
		sess.mu.Unlock()

		for _, roomID := range cleared {
			syncevt.LockExpired(context.Background(), h.pub, sess.id, roomID)
			h.broadcast(sess, lockUpdateMessage{Type: "lock_update", RoomID: roomID, By: nil})
		}

		if idle {
			h.mu.Lock()
			delete(h.sessions, sess.id)
			h.mu.Unlock()
			sessionevt.Evicted(context.Background(), h.pub, sess.id)
		}
	}
}

// broadcast delivers a message to every connection subscribed to the
// session's channel. It is called synchronously after each accepted mutation
// so all participants observe the same order. Failed writes detach the
// subscriber.
func (h *Hub) broadcast(sess *session, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	sess.mu.Lock()
	subs := make([]*subscriber, 0, len(sess.subscribers))
	for _, sub := range sess.subscribers {
		subs = append(subs, sub)
	}
	sess.mu.Unlock()

	h.telemetry.RecordBroadcast(len(data), len(subs))
	for _, sub := range subs {
		if !h.write(sub, data) {
			h.Disconnect(sess.id, sub.id)
		}
	}
}

// send delivers one message to a single subscriber.
func (h *Hub) send(sess *session, sub *subscriber, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if !h.write(sub, data) {
		h.Disconnect(sess.id, sub.id)
	}
}

func (h *Hub) write(sub *subscriber, data []byte) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.conn.SetWriteDeadline(h.clock.Now().Add(writeWait))
	return sub.conn.WriteMessage(websocket.TextMessage, data) == nil
}

// checkpointAsync persists the canonical snapshot without touching the
// real-time path. Failures are logged and counted, never propagated.
func (h *Hub) checkpointAsync(sessionID string, snapshot []byte) {
	if snapshot == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
		defer cancel()
		if err := h.store.Checkpoint(ctx, sessionID, snapshot); err != nil {
			h.telemetry.RecordCheckpointFailure()
			syncevt.CheckpointFailed(ctx, h.pub, sessionID, err)
		}
	}()
}

// appendEventAsync records a raw session event for analytics, fire-and-forget.
func (h *Hub) appendEventAsync(sessionID, eventType string, payload []byte) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
		defer cancel()
		if err := h.store.AppendEvent(ctx, sessionID, eventType, payload); err != nil {
			syncevt.CheckpointFailed(ctx, h.pub, sessionID, err)
		}
	}()
}

func participantRef(connID string) logging.EntityRef {
	return logging.EntityRef{ID: connID, Kind: logging.EntityKindParticipant}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
