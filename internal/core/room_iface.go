package core

import (
	"github.com/dkeye/voicemesh/internal/domain"
)

// PublishResult reports delivery stats/backpressure to the hub.
type PublishResult struct {
	SendTo  int
	Dropped []SessionID
}

// TopicService is the hub-facing API of one relay topic.
// It owns the presence set but never touches transport resources.
type TopicService interface {
	Name() domain.Topic
	MemberCount() int
	Presence() map[domain.ParticipantID]domain.Presence

	// Join registers sid under key. A previous session holding the same key
	// is evicted and returned. When welcome is set, its frame is queued to
	// conn before any broadcast can reach the new member, so the member never
	// sees a diff older than its snapshot.
	Join(sid SessionID, conn SignalConnection, key domain.ParticipantID, meta domain.Presence, welcome func(state map[domain.ParticipantID]domain.Presence) Frame) (evicted SessionID, replaced bool)
	Track(sid SessionID, meta domain.Presence) (domain.ParticipantID, bool)
	Leave(sid SessionID) (domain.ParticipantID, domain.Presence, bool)
	// Broadcast queues data to every member but from. Membership cannot
	// change while it runs.
	Broadcast(from SessionID, data Frame) PublishResult
}

type TopicInfo struct {
	Name        domain.Topic `json:"name"`
	MemberCount int          `json:"member_count"`
}

type TopicManager interface {
	GetOrCreate(name domain.Topic) TopicService
	Get(name domain.Topic) (TopicService, bool)
	List() []TopicInfo
	DropIfEmpty(name domain.Topic)
}
