package sessionevt

import (
	"context"

	"nightfall/server/logging"
)

const (
	// EventJoined is emitted when a connection subscribes to a session channel.
	EventJoined logging.EventType = "session.joined"
	// EventLeft is emitted when a connection leaves or its socket dies.
	EventLeft logging.EventType = "session.left"
	// EventEvicted is emitted when the idle sweep removes a session from memory.
	EventEvicted logging.EventType = "session.evicted"
	// EventColdLoaded is emitted when durable state is recovered at first join.
	EventColdLoaded logging.EventType = "session.cold_loaded"
	// EventColdLoadRejected is emitted when a persisted snapshot fails validation.
	EventColdLoadRejected logging.EventType = "session.cold_load_rejected"
	// EventColdLoadFailed is emitted when durable storage errors during a cold load.
	EventColdLoadFailed logging.EventType = "session.cold_load_failed"
)

// JoinPayload captures the subscribing participant's role.
type JoinPayload struct {
	Role string `json:"role"`
}

// ColdLoadPayload captures the size of a recovered snapshot.
type ColdLoadPayload struct {
	Bytes int `json:"bytes"`
}

func Joined(ctx context.Context, pub logging.Publisher, sessionID string, actor logging.EntityRef, payload JoinPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventJoined,
		Session:  sessionID,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Payload:  payload,
	})
}

func Left(ctx context.Context, pub logging.Publisher, sessionID string, actor logging.EntityRef) {
	publish(ctx, pub, logging.Event{
		Type:     EventLeft,
		Session:  sessionID,
		Actor:    actor,
		Severity: logging.SeverityInfo,
	})
}

func Evicted(ctx context.Context, pub logging.Publisher, sessionID string) {
	publish(ctx, pub, logging.Event{
		Type:     EventEvicted,
		Session:  sessionID,
		Actor:    logging.EntityRef{ID: sessionID, Kind: logging.EntityKindSession},
		Severity: logging.SeverityInfo,
	})
}

func ColdLoaded(ctx context.Context, pub logging.Publisher, sessionID string, payload ColdLoadPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventColdLoaded,
		Session:  sessionID,
		Actor:    logging.EntityRef{ID: sessionID, Kind: logging.EntityKindSession},
		Severity: logging.SeverityInfo,
		Payload:  payload,
	})
}

func ColdLoadRejected(ctx context.Context, pub logging.Publisher, sessionID string) {
	publish(ctx, pub, logging.Event{
		Type:     EventColdLoadRejected,
		Session:  sessionID,
		Actor:    logging.EntityRef{ID: sessionID, Kind: logging.EntityKindSession},
		Severity: logging.SeverityWarn,
	})
}

func ColdLoadFailed(ctx context.Context, pub logging.Publisher, sessionID string, err error) {
	event := logging.Event{
		Type:     EventColdLoadFailed,
		Session:  sessionID,
		Actor:    logging.EntityRef{ID: sessionID, Kind: logging.EntityKindSession},
		Severity: logging.SeverityError,
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
	event.Category = logging.CategorySession
	pub.Publish(ctx, event)
}
