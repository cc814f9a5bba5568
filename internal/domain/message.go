package domain

import "encoding/json"

// Broadcast event names on the channel topic.
const (
	EventSignal     = "signal"
	EventModeration = "mod_action"
)

type SignalKind string

const (
	SignalOffer  SignalKind = "offer"
	SignalAnswer SignalKind = "answer"
	SignalICE    SignalKind = "ice"
)

// SignalMessage is unicast by addressing, but the relay broadcasts it,
// so every receiver drops messages whose To is not itself.
type SignalMessage struct {
	Kind SignalKind      `json:"type"`
	From ParticipantID   `json:"from"`
	To   ParticipantID   `json:"to"`
	Data json.RawMessage `json:"data"`
}

type ModerationAction string

const (
	ModKick        ModerationAction = "kick"
	ModForceMute   ModerationAction = "force_mute"
	ModForceUnmute ModerationAction = "force_unmute"
	ModMove        ModerationAction = "move"
)

func (a ModerationAction) Valid() bool {
	switch a {
	case ModKick, ModForceMute, ModForceUnmute, ModMove:
		return true
	}
	return false
}

type ModerationMessage struct {
	Action        ModerationAction `json:"action"`
	To            ParticipantID    `json:"to"`
	TargetChannel ChannelID        `json:"target_channel_id,omitempty"`
}
