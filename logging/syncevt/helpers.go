package syncevt

import (
	"context"

	"nightfall/server/logging"
)

const (
	// EventSnapshotAccepted is emitted when a full snapshot becomes canonical.
	EventSnapshotAccepted logging.EventType = "sync.snapshot_accepted"
	// EventSnapshotRejected is emitted when a full snapshot fails validation.
	EventSnapshotRejected logging.EventType = "sync.snapshot_rejected"
	// EventPatchRejected is emitted when a patch carries disallowed keys.
	EventPatchRejected logging.EventType = "sync.patch_rejected"
	// EventDriftResync is emitted when accumulated patch volume forces a resync.
	EventDriftResync logging.EventType = "sync.drift_resync"
	// EventLockExpired is emitted when the sweep clears an abandoned lease.
	EventLockExpired logging.EventType = "sync.lock_expired"
	// EventCheckpointFailed is emitted when an async checkpoint write fails.
	EventCheckpointFailed logging.EventType = "persistence.checkpoint_failed"
)

// SnapshotPayload captures the accepted snapshot size.
type SnapshotPayload struct {
	Bytes int `json:"bytes"`
}

// RejectPayload captures the offending patch keys.
type RejectPayload struct {
	Keys []string `json:"keys,omitempty"`
}

// DriftPayload captures the ratio that crossed the threshold.
type DriftPayload struct {
	Ratio float64 `json:"ratio"`
}

func SnapshotAccepted(ctx context.Context, pub logging.Publisher, sessionID string, actor logging.EntityRef, payload SnapshotPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventSnapshotAccepted,
		Session:  sessionID,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategorySync,
		Payload:  payload,
	})
}

func SnapshotRejected(ctx context.Context, pub logging.Publisher, sessionID string, actor logging.EntityRef) {
	publish(ctx, pub, logging.Event{
		Type:     EventSnapshotRejected,
		Session:  sessionID,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySync,
	})
}

func PatchRejected(ctx context.Context, pub logging.Publisher, sessionID string, actor logging.EntityRef, payload RejectPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventPatchRejected,
		Session:  sessionID,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySync,
		Payload:  payload,
	})
}

func DriftResync(ctx context.Context, pub logging.Publisher, sessionID string, actor logging.EntityRef, payload DriftPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventDriftResync,
		Session:  sessionID,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategorySync,
		Payload:  payload,
	})
}

func LockExpired(ctx context.Context, pub logging.Publisher, sessionID, roomID string) {
	publish(ctx, pub, logging.Event{
		Type:     EventLockExpired,
		Session:  sessionID,
		Actor:    logging.EntityRef{ID: roomID, Kind: logging.EntityKindRoom},
		Severity: logging.SeverityInfo,
		Category: logging.CategorySync,
	})
}

func CheckpointFailed(ctx context.Context, pub logging.Publisher, sessionID string, err error) {
	event := logging.Event{
		Type:     EventCheckpointFailed,
		Session:  sessionID,
		Actor:    logging.EntityRef{ID: sessionID, Kind: logging.EntityKindStore},
		Severity: logging.SeverityError,
		Category: logging.CategoryPersistence,
	}
	if err != nil {
		event = event.WithExtra("error", err.Error())
	}
	publish(ctx, pub, event)
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, event)
}
