package server

import "encoding/json"

// Server-to-client channel messages. All broadcasts funnel through the hub's
// single fan-out path so every subscriber observes the same relative order.

type stateMessage struct {
	Type       string          `json:"type"`
	Full       bool            `json:"full,omitempty"`
	Heartbeat  bool            `json:"heartbeat,omitempty"`
	Snapshot   *Snapshot       `json:"snapshot,omitempty"`
	Patch      json.RawMessage `json:"patch,omitempty"`
	ServerTime int64           `json:"serverTime,omitempty"`
}

type stateRejectMessage struct {
	Type   string   `json:"type"`
	Reason string   `json:"reason"`
	Keys   []string `json:"keys,omitempty"`
}

type requestFullMessage struct {
	Type   string  `json:"type"`
	Reason string  `json:"reason,omitempty"`
	Ratio  float64 `json:"ratio,omitempty"`
}

type chatBroadcast struct {
	Type    string `json:"type"`
	Role    string `json:"role,omitempty"`
	Message string `json:"message"`
	TS      int64  `json:"ts"`
}

type roomCompletedBroadcast struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	TS     int64  `json:"ts"`
}

// lockUpdateMessage announces a lock transition; By is null when the room
// returns to free.
type lockUpdateMessage struct {
	Type   string  `json:"type"`
	RoomID string  `json:"roomId"`
	By     *string `json:"by"`
}

// lockResultMessage is sent to the requesting connection only.
type lockResultMessage struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	Success bool   `json:"success"`
}

type heartbeatMessage struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
}
