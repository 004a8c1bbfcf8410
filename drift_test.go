package server

import (
	"math"
	"testing"
)

func TestDriftTrackerThreshold(t *testing.T) {
	drift := newDriftTracker(0.6)
	drift.noteFull(2000)

	if _, exceeded := drift.notePatch(700); exceeded {
		t.Fatalf("ratio 0.35 should not trigger a resync")
	}
	if _, exceeded := drift.notePatch(400); exceeded {
		t.Fatalf("ratio 0.55 should not trigger a resync")
	}
	signal, exceeded := drift.notePatch(200)
	if !exceeded {
		t.Fatalf("ratio 0.65 should trigger a resync")
	}
	if math.Abs(signal.Ratio-0.65) > 1e-9 {
		t.Fatalf("expected ratio 0.65, got %f", signal.Ratio)
	}
}

func TestDriftTrackerResetOnFull(t *testing.T) {
	drift := newDriftTracker(0.6)
	drift.noteFull(1000)
	drift.notePatch(900)

	drift.noteFull(3000)
	if _, exceeded := drift.notePatch(100); exceeded {
		t.Fatalf("counters must reset when a new full snapshot is accepted")
	}
	if got := drift.ratio(); math.Abs(got-100.0/3000.0) > 1e-9 {
		t.Fatalf("expected fresh baseline ratio, got %f", got)
	}
}

func TestDriftTrackerKeepsSignalingUntilResync(t *testing.T) {
	drift := newDriftTracker(0.6)
	drift.noteFull(100)
	drift.notePatch(70)

	if _, exceeded := drift.notePatch(10); !exceeded {
		t.Fatalf("drift should keep signaling on every accepted patch until a full arrives")
	}
}

func TestDriftTrackerNoBaseline(t *testing.T) {
	drift := newDriftTracker(0.6)
	if got := drift.ratio(); got != 0 {
		t.Fatalf("idle tracker should report zero ratio, got %f", got)
	}
	signal, exceeded := drift.notePatch(10)
	if !exceeded {
		t.Fatalf("patch-only state counts as full drift")
	}
	if signal.Ratio != 1 {
		t.Fatalf("expected finite full-drift ratio 1, got %f", signal.Ratio)
	}
}
