package app

import "github.com/dkeye/voicemesh/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

type Policy interface {
	OnBackPressure(topic core.TopicService, sid core.SessionID) BackpressureAction
}

// SimplePolicy disconnects a subscriber whose send queue is full.
// Signaling loss is worse than a reconnect: the client rebuilds its mesh from presence.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(topic core.TopicService, sid core.SessionID) BackpressureAction {
	return KickMember
}
