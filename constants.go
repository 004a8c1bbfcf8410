package server

import "time"

const (
	writeWait = 10 * time.Second

	defaultPatchCooldown  = 200 * time.Millisecond
	defaultLockTTL        = 10 * time.Second
	defaultSweepInterval  = 3 * time.Second
	defaultDriftThreshold = 0.6
	defaultIdleAfter      = 30 * time.Minute

	checkpointTimeout = 5 * time.Second
)

// Rejection reasons surfaced on the state_reject message.
const (
	rejectInvalidSnapshot = "invalid_snapshot"
	rejectInvalidKeys     = "invalid_keys"
)

// resyncReasonInefficientDiffs labels the drift-triggered request_full.
const resyncReasonInefficientDiffs = "inefficient_diffs"
