package domain

import "encoding/json"

// Relay frame types.
const (
	FrameJoin          = "join"
	FrameTrack         = "track"
	FrameLeave         = "leave"
	FrameBroadcast     = "broadcast"
	FramePing          = "ping"
	FramePong          = "pong"
	FramePresenceState = "presence_state"
	FramePresenceDiff  = "presence_diff"
	FrameError         = "error"
)

// RelayFrame is the JSON envelope spoken between the relay and its clients.
type RelayFrame struct {
	Type    string                     `json:"type"`
	Topic   Topic                      `json:"topic,omitempty"`
	Key     ParticipantID              `json:"key,omitempty"`
	Event   string                     `json:"event,omitempty"`
	Payload json.RawMessage            `json:"payload,omitempty"`
	Meta    *Presence                  `json:"meta,omitempty"`
	State   map[ParticipantID]Presence `json:"state,omitempty"`
	Joins   map[ParticipantID]Presence `json:"joins,omitempty"`
	Leaves  map[ParticipantID]Presence `json:"leaves,omitempty"`
	Error   string                     `json:"error,omitempty"`
}
