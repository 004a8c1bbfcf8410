package server

import (
	"encoding/json"
	"math"
	"sort"
	"time"
)

// maxRecentChat bounds the chat window carried inside the canonical snapshot.
const maxRecentChat = 50

// Snapshot is the canonical state of a session at a point in time. Required
// fields are typed; roomProgress and recentChat stay loosely shaped because
// their contents are owned by the puzzle content, not by the sync engine.
type Snapshot struct {
	CurrentRoom  int                       `json:"currentRoom"`
	TimeLeft     int                       `json:"timeLeft"`
	GamePhase    string                    `json:"gamePhase"`
	RoomProgress map[string]map[string]any `json:"roomProgress,omitempty"`
	RecentChat   []any                     `json:"recentChat,omitempty"`
	TS           int64                     `json:"ts,omitempty"`
	Version      int64                     `json:"version,omitempty"`
	Checksum     string                    `json:"checksum,omitempty"`
}

// patchAllowedKeys is the set of top-level keys a patch may carry. Unknown
// keys invalidate the whole patch so that older or newer clients cannot
// smuggle fields past the merge.
var patchAllowedKeys = map[string]struct{}{
	"roomProgress": {},
	"currentRoom":  {},
	"timeLeft":     {},
	"gamePhase":    {},
	"ts":           {},
	"version":      {},
	"checksum":     {},
	"recentChat":   {},
}

// DecodeSnapshot parses a full-state candidate and reports whether it is
// structurally valid. Invalid candidates must never become canonical.
func DecodeSnapshot(raw []byte) (Snapshot, bool) {
	var candidate map[string]any
	if err := json.Unmarshal(raw, &candidate); err != nil || candidate == nil {
		return Snapshot{}, false
	}
	if !hasIntegerField(candidate, "currentRoom") || !hasIntegerField(candidate, "timeLeft") {
		return Snapshot{}, false
	}
	if _, ok := candidate["gamePhase"].(string); !ok {
		return Snapshot{}, false
	}
	if raw, present := candidate["roomProgress"]; present {
		progress, ok := raw.(map[string]any)
		if !ok {
			return Snapshot{}, false
		}
		for _, record := range progress {
			if _, ok := record.(map[string]any); !ok {
				return Snapshot{}, false
			}
		}
	}
	if raw, present := candidate["recentChat"]; present {
		if _, ok := raw.([]any); !ok {
			return Snapshot{}, false
		}
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false
	}
	if len(snap.RecentChat) > maxRecentChat {
		snap.RecentChat = append([]any(nil), snap.RecentChat[len(snap.RecentChat)-maxRecentChat:]...)
	}
	return snap, true
}

func hasIntegerField(candidate map[string]any, key string) bool {
	value, ok := candidate[key].(float64)
	if !ok {
		return false
	}
	return value == math.Trunc(value)
}

// disallowedPatchKeys returns the patch keys outside the allow-list, sorted
// for stable rejection notices.
func disallowedPatchKeys(patch map[string]any) []string {
	var bad []string
	for key := range patch {
		if _, ok := patchAllowedKeys[key]; !ok {
			bad = append(bad, key)
		}
	}
	sort.Strings(bad)
	return bad
}

// applyPatch merges an allow-listed patch into the snapshot and returns the
// result. The receiver is not mutated; container fields are copied before
// being written so broadcast copies never alias canonical state. Re-applying
// the same patch yields the same snapshot, since delivery is at-least-once.
func (s Snapshot) applyPatch(patch map[string]any, envelopeTS int64, now time.Time) Snapshot {
	next := s

	if value, ok := patch["currentRoom"]; ok {
		if n, ok := asInt(value); ok {
			next.CurrentRoom = n
		}
	}
	if value, ok := patch["timeLeft"]; ok {
		if n, ok := asInt(value); ok {
			next.TimeLeft = n
		}
	}
	if value, ok := patch["gamePhase"].(string); ok {
		next.GamePhase = value
	}
	if value, ok := patch["version"]; ok {
		if n, ok := asInt64(value); ok {
			next.Version = n
		}
	}
	if value, ok := patch["checksum"].(string); ok {
		next.Checksum = value
	}

	if raw, ok := patch["roomProgress"].(map[string]any); ok {
		merged := make(map[string]map[string]any, len(s.RoomProgress)+len(raw))
		for roomID, record := range s.RoomProgress {
			merged[roomID] = record
		}
		for roomID, value := range raw {
			record, ok := value.(map[string]any)
			if !ok {
				continue
			}
			existing := merged[roomID]
			room := make(map[string]any, len(existing)+len(record))
			for k, v := range existing {
				room[k] = v
			}
			for k, v := range record {
				room[k] = v
			}
			merged[roomID] = room
		}
		next.RoomProgress = merged
	}

	if entries, ok := patch["recentChat"].([]any); ok {
		next = next.appendChat(entries)
	}

	switch {
	case hasNumber(patch, "ts"):
		ts, _ := asInt64(patch["ts"])
		next.TS = ts
	case envelopeTS != 0:
		next.TS = envelopeTS
	default:
		next.TS = now.UnixMilli()
	}
	return next
}

// appendChat appends chat entries, skipping entries already present in the
// window, and truncates to the most recent maxRecentChat. The dedupe keeps
// redelivered patches idempotent without reordering arrivals.
func (s Snapshot) appendChat(entries []any) Snapshot {
	if len(entries) == 0 {
		return s
	}
	seen := make(map[string]struct{}, len(s.RecentChat))
	for _, entry := range s.RecentChat {
		seen[chatKey(entry)] = struct{}{}
	}
	chat := append([]any(nil), s.RecentChat...)
	for _, entry := range entries {
		key := chatKey(entry)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		chat = append(chat, entry)
	}
	if len(chat) > maxRecentChat {
		chat = chat[len(chat)-maxRecentChat:]
	}
	s.RecentChat = chat
	return s
}

func chatKey(entry any) string {
	data, err := json.Marshal(entry)
	if err != nil {
		return ""
	}
	return string(data)
}

func hasNumber(patch map[string]any, key string) bool {
	_, ok := patch[key].(float64)
	return ok
}

func asInt(value any) (int, bool) {
	n, ok := value.(float64)
	if !ok || n != math.Trunc(n) {
		return 0, false
	}
	return int(n), true
}

func asInt64(value any) (int64, bool) {
	n, ok := value.(float64)
	if !ok || n != math.Trunc(n) {
		return 0, false
	}
	return int64(n), true
}

// encoded returns the canonical JSON form used for broadcasts, drift
// accounting, and checkpoints.
func (s Snapshot) encoded() ([]byte, error) {
	return json.Marshal(s)
}
