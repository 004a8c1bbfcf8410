package server

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// telemetryCounters tracks process-wide sync activity. The atomic fields feed
// the diagnostics endpoint; the optional Prometheus counters mirror them for
// scraping. Never part of canonical game state and never broadcast.
type telemetryCounters struct {
	snapshotsAccepted  atomic.Uint64
	snapshotsRejected  atomic.Uint64
	patchesApplied     atomic.Uint64
	patchesRejected    atomic.Uint64
	patchesThrottled   atomic.Uint64
	resyncRequests     atomic.Uint64
	checkpointFailures atomic.Uint64
	coldLoads          atomic.Uint64
	broadcasts         atomic.Uint64
	bytesSent          atomic.Uint64

	prom *promCounters
}

type promCounters struct {
	snapshotsAccepted  prometheus.Counter
	snapshotsRejected  prometheus.Counter
	patchesApplied     prometheus.Counter
	patchesRejected    prometheus.Counter
	patchesThrottled   prometheus.Counter
	resyncRequests     prometheus.Counter
	checkpointFailures prometheus.Counter
	coldLoads          prometheus.Counter
	broadcasts         prometheus.Counter
	bytesSent          prometheus.Counter
}

type telemetrySnapshot struct {
	SnapshotsAccepted  uint64 `json:"snapshotsAccepted"`
	SnapshotsRejected  uint64 `json:"snapshotsRejected"`
	PatchesApplied     uint64 `json:"patchesApplied"`
	PatchesRejected    uint64 `json:"patchesRejected"`
	PatchesThrottled   uint64 `json:"patchesThrottled"`
	ResyncRequests     uint64 `json:"resyncRequests"`
	CheckpointFailures uint64 `json:"checkpointFailures"`
	ColdLoads          uint64 `json:"coldLoads"`
	Broadcasts         uint64 `json:"broadcasts"`
	BytesSent          uint64 `json:"bytesSent"`
}

// newTelemetryCounters builds the counter set; reg may be nil when no scrape
// endpoint is wired (tests).
func newTelemetryCounters(reg prometheus.Registerer) *telemetryCounters {
	t := &telemetryCounters{}
	if reg == nil {
		return t
	}
	factory := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: "nightfall",
			Subsystem: "sync",
			Name:      name,
			Help:      help,
		})
	}
	t.prom = &promCounters{
		snapshotsAccepted:  counter("snapshots_accepted_total", "Full snapshots accepted as canonical."),
		snapshotsRejected:  counter("snapshots_rejected_total", "Full snapshots rejected by validation."),
		patchesApplied:     counter("patches_applied_total", "Patches merged into canonical state."),
		patchesRejected:    counter("patches_rejected_total", "Patches rejected for disallowed keys."),
		patchesThrottled:   counter("patches_throttled_total", "Submissions dropped by the cooldown."),
		resyncRequests:     counter("resync_requests_total", "Drift-triggered full resync requests."),
		checkpointFailures: counter("checkpoint_failures_total", "Asynchronous checkpoint writes that failed."),
		coldLoads:          counter("cold_loads_total", "Snapshots recovered from durable storage."),
		broadcasts:         counter("broadcasts_total", "Messages fanned out to session channels."),
		bytesSent:          counter("bytes_sent_total", "Bytes written to subscribers."),
	}
	return t
}

func (t *telemetryCounters) RecordSnapshotAccepted() {
	t.snapshotsAccepted.Add(1)
	if t.prom != nil {
		t.prom.snapshotsAccepted.Inc()
	}
}

func (t *telemetryCounters) RecordSnapshotRejected() {
	t.snapshotsRejected.Add(1)
	if t.prom != nil {
		t.prom.snapshotsRejected.Inc()
	}
}

func (t *telemetryCounters) RecordPatchApplied() {
	t.patchesApplied.Add(1)
	if t.prom != nil {
		t.prom.patchesApplied.Inc()
	}
}

func (t *telemetryCounters) RecordPatchRejected() {
	t.patchesRejected.Add(1)
	if t.prom != nil {
		t.prom.patchesRejected.Inc()
	}
}

func (t *telemetryCounters) RecordPatchThrottled() {
	t.patchesThrottled.Add(1)
	if t.prom != nil {
		t.prom.patchesThrottled.Inc()
	}
}

func (t *telemetryCounters) RecordResyncRequest() {
	t.resyncRequests.Add(1)
	if t.prom != nil {
		t.prom.resyncRequests.Inc()
	}
}

func (t *telemetryCounters) RecordCheckpointFailure() {
	t.checkpointFailures.Add(1)
	if t.prom != nil {
		t.prom.checkpointFailures.Inc()
	}
}

func (t *telemetryCounters) RecordColdLoad() {
	t.coldLoads.Add(1)
	if t.prom != nil {
		t.prom.coldLoads.Inc()
	}
}

func (t *telemetryCounters) RecordBroadcast(bytes, receivers int) {
	if bytes < 0 {
		bytes = 0
	}
	t.broadcasts.Add(1)
	t.bytesSent.Add(uint64(bytes) * uint64(max(receivers, 0)))
	if t.prom != nil {
		t.prom.broadcasts.Inc()
		t.prom.bytesSent.Add(float64(bytes) * float64(max(receivers, 0)))
	}
}

func (t *telemetryCounters) Snapshot() telemetrySnapshot {
	return telemetrySnapshot{
		SnapshotsAccepted:  t.snapshotsAccepted.Load(),
		SnapshotsRejected:  t.snapshotsRejected.Load(),
		PatchesApplied:     t.patchesApplied.Load(),
		PatchesRejected:    t.patchesRejected.Load(),
		PatchesThrottled:   t.patchesThrottled.Load(),
		ResyncRequests:     t.resyncRequests.Load(),
		CheckpointFailures: t.checkpointFailures.Load(),
		ColdLoads:          t.coldLoads.Load(),
		Broadcasts:         t.broadcasts.Load(),
		BytesSent:          t.bytesSent.Load(),
	}
}
