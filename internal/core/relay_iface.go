package core

import (
	"encoding/json"

	"github.com/dkeye/voicemesh/internal/domain"
)

type RelayEventKind int

const (
	PresenceSync RelayEventKind = iota
	PresenceJoin
	PresenceLeave
	BroadcastEvent
)

func (k RelayEventKind) String() string {
	switch k {
	case PresenceSync:
		return "sync"
	case PresenceJoin:
		return "join"
	case PresenceLeave:
		return "leave"
	case BroadcastEvent:
		return "broadcast"
	}
	return "unknown"
}

// RelayEvent is delivered to a RelayHandler. Presence events carry the full
// current presence map of the topic (self included) and the key that changed.
type RelayEvent struct {
	Kind     RelayEventKind
	Key      domain.ParticipantID
	Presence map[domain.ParticipantID]domain.Presence
	Event    string
	Payload  json.RawMessage
}

type RelayHandler func(RelayEvent)

//go:generate mockgen -source=relay_iface.go -destination=mocks/relay_mock.go -package=mocks

// Relay is a publish/subscribe relay with per-topic presence.
// Join must not wait for network round trips; events arrive asynchronously
// and in order on the handler.
type Relay interface {
	Join(topic domain.Topic, key domain.ParticipantID, meta domain.Presence, h RelayHandler) (RelayChannel, error)
}

type RelayChannel interface {
	// Track replaces this client's presence payload.
	Track(meta domain.Presence) error
	// Broadcast sends payload to every other subscriber of the topic.
	Broadcast(event string, payload any) error
	Leave() error
}
