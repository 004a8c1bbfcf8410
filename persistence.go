package server

import "context"

// Store is the durable-storage capability injected into the hub. Checkpoint
// writes are dispatched on background goroutines and never awaited by the
// real-time path; ColdLoad is awaited once, at first join, when no in-memory
// state exists.
type Store interface {
	// Checkpoint persists the canonical snapshot for a session.
	Checkpoint(ctx context.Context, sessionID string, snapshot []byte) error
	// ColdLoad retrieves the last persisted snapshot, reporting whether one
	// exists. A loaded snapshot must still pass validation before it may
	// become canonical.
	ColdLoad(ctx context.Context, sessionID string) ([]byte, bool, error)
	// AppendEvent records a raw session event in the analytics log.
	AppendEvent(ctx context.Context, sessionID, eventType string, payload []byte) error
}

// NopStore discards checkpoints and never finds a snapshot. It stands in when
// the server runs without durable storage.
type NopStore struct{}

func (NopStore) Checkpoint(context.Context, string, []byte) error { return nil }

func (NopStore) ColdLoad(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NopStore) AppendEvent(context.Context, string, string, []byte) error { return nil }
