package core

import (
	"sync"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

type topicMember struct {
	key  domain.ParticipantID
	meta domain.Presence
	conn SignalConnection
}

// topicImpl is a threadsafe in-memory topic.
// It never closes adapter-owned resources.
type topicImpl struct {
	name  domain.Topic
	mu    sync.RWMutex
	bySID map[SessionID]*topicMember
	byKey map[domain.ParticipantID]SessionID
}

func NewTopicService(name domain.Topic) TopicService {
	return &topicImpl{
		name:  name,
		bySID: make(map[SessionID]*topicMember),
		byKey: make(map[domain.ParticipantID]SessionID),
	}
}

func (t *topicImpl) Name() domain.Topic { return t.name }

func (t *topicImpl) MemberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.bySID)
}

func (t *topicImpl) Join(sid SessionID, conn SignalConnection, key domain.ParticipantID, meta domain.Presence, welcome func(map[domain.ParticipantID]domain.Presence) Frame) (SessionID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		evicted  SessionID
		replaced bool
	)
	if old, ok := t.byKey[key]; ok && old != sid {
		delete(t.bySID, old)
		evicted, replaced = old, true
	}
	if prev, ok := t.bySID[sid]; ok && prev.key != key {
		delete(t.byKey, prev.key)
	}
	t.bySID[sid] = &topicMember{key: key, meta: meta, conn: conn}
	t.byKey[key] = sid
	if welcome != nil {
		if f := welcome(t.presenceLocked()); f != nil {
			if err := conn.TrySend(f); err != nil {
				log.Warn().Err(err).Str("module", "core.topic").Str("topic", string(t.name)).Str("sid", string(sid)).Msg("welcome dropped")
			}
		}
	}
	log.Info().Str("module", "core.topic").Str("topic", string(t.name)).Str("sid", string(sid)).Str("key", string(key)).Bool("replaced", replaced).Msg("member joined")
	return evicted, replaced
}

func (t *topicImpl) Track(sid SessionID, meta domain.Presence) (domain.ParticipantID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.bySID[sid]
	if !ok {
		return "", false
	}
	m.meta = meta
	return m.key, true
}

func (t *topicImpl) Leave(sid SessionID) (domain.ParticipantID, domain.Presence, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.bySID[sid]
	if !ok {
		return "", domain.Presence{}, false
	}
	delete(t.bySID, sid)
	if t.byKey[m.key] == sid {
		delete(t.byKey, m.key)
	}
	log.Info().Str("module", "core.topic").Str("topic", string(t.name)).Str("sid", string(sid)).Str("key", string(m.key)).Msg("member left")
	return m.key, m.meta, true
}

func (t *topicImpl) Presence() map[domain.ParticipantID]domain.Presence {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.presenceLocked()
}

func (t *topicImpl) presenceLocked() map[domain.ParticipantID]domain.Presence {
	out := make(map[domain.ParticipantID]domain.Presence, len(t.bySID))
	for _, m := range t.bySID {
		out[m.key] = m.meta
	}
	return out
}

func (t *topicImpl) Broadcast(from SessionID, data Frame) PublishResult {
	t.mu.RLock()
	defer t.mu.RUnlock()

	res := PublishResult{}
	for sid, m := range t.bySID {
		if sid == from {
			continue
		}
		if err := m.conn.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.topic").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
