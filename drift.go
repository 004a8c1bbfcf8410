package server

// driftSignal carries the measured patch-to-snapshot ratio that triggered a
// forced resync request.
type driftSignal struct {
	Ratio float64
}

// driftTracker measures accepted patch volume against the byte size of the
// last accepted full snapshot. Once the cumulative ratio crosses the
// threshold the origin connection is asked for a fresh full snapshot,
// bounding unbounded patch-only divergence. Not safe for concurrent use; the
// owning session serializes access.
type driftTracker struct {
	threshold     float64
	baselineBytes int
	patchBytes    int
}

func newDriftTracker(threshold float64) *driftTracker {
	if threshold <= 0 {
		threshold = defaultDriftThreshold
	}
	return &driftTracker{threshold: threshold}
}

// noteFull resets the accumulator against a freshly accepted full snapshot.
func (d *driftTracker) noteFull(size int) {
	if size < 0 {
		size = 0
	}
	d.baselineBytes = size
	d.patchBytes = 0
}

// notePatch records an accepted patch and reports whether the drift ratio now
// exceeds the threshold. The triggering patch is still applied and broadcast;
// the signal is advisory, sent in addition.
func (d *driftTracker) notePatch(size int) (driftSignal, bool) {
	if size > 0 {
		d.patchBytes += size
	}
	ratio := d.ratio()
	if ratio > d.threshold {
		return driftSignal{Ratio: ratio}, true
	}
	return driftSignal{}, false
}

// ratio is cumulative patch bytes over the baseline snapshot size. A session
// that has only ever seen patches has no baseline; that counts as full drift.
func (d *driftTracker) ratio() float64 {
	if d.baselineBytes <= 0 {
		if d.patchBytes > 0 {
			return 1
		}
		return 0
	}
	return float64(d.patchBytes) / float64(d.baselineBytes)
}
