package orch

import (
	"encoding/json"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) Join(sid core.SessionID, topic domain.Topic, key domain.ParticipantID, meta domain.Presence) {
	conn, ok := o.Registry.Conn(sid)
	if !ok {
		return
	}
	o.Registry.AddTopic(sid, topic)
	welcome := func(state map[domain.ParticipantID]domain.Presence) core.Frame {
		b, err := json.Marshal(domain.RelayFrame{
			Type:  domain.FramePresenceState,
			Topic: topic,
			State: state,
		})
		if err != nil {
			log.Error().Err(err).Str("module", "orch").Msg("marshal presence state")
			return nil
		}
		return b
	}

	var (
		t        core.TopicService
		evicted  core.SessionID
		replaced bool
	)
	for {
		t = o.Topics.GetOrCreate(topic)
		evicted, replaced = t.Join(sid, conn, key, meta, welcome)
		// the topic may have been dropped as empty between lookup and join
		if cur, ok := o.Topics.Get(topic); ok && cur == t {
			break
		}
		t.Leave(sid)
	}

	diff := domain.RelayFrame{
		Type:  domain.FramePresenceDiff,
		Topic: topic,
		Joins: map[domain.ParticipantID]domain.Presence{key: meta},
	}
	if replaced {
		o.Registry.RemoveTopic(evicted, topic)
		diff.Leaves = map[domain.ParticipantID]domain.Presence{key: {}}
		o.send(evicted, domain.RelayFrame{Type: domain.FrameError, Topic: topic, Error: "replaced"})
		log.Info().Str("module", "orch").Str("topic", string(topic)).Str("key", string(key)).Str("evicted", string(evicted)).Msg("key rejoined")
	}

	o.fanout(t, sid, diff)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("topic", string(topic)).Str("key", string(key)).Msg("join")
}

func (o *Orchestrator) Track(sid core.SessionID, topic domain.Topic, meta domain.Presence) {
	t, ok := o.Topics.Get(topic)
	if !ok {
		o.replyError(sid, "not joined")
		return
	}
	key, ok := t.Track(sid, meta)
	if !ok {
		o.replyError(sid, "not joined")
		return
	}
	o.fanout(t, "", domain.RelayFrame{
		Type:  domain.FramePresenceDiff,
		Topic: topic,
		Joins: map[domain.ParticipantID]domain.Presence{key: meta},
	})
}

func (o *Orchestrator) Leave(sid core.SessionID, topic domain.Topic) {
	o.Registry.RemoveTopic(sid, topic)
	o.leaveTopic(sid, topic)
}

func (o *Orchestrator) leaveTopic(sid core.SessionID, topic domain.Topic) {
	t, ok := o.Topics.Get(topic)
	if !ok {
		return
	}
	key, _, ok := t.Leave(sid)
	if !ok {
		return
	}
	o.fanout(t, sid, domain.RelayFrame{
		Type:   domain.FramePresenceDiff,
		Topic:  topic,
		Leaves: map[domain.ParticipantID]domain.Presence{key: {}},
	})
	o.Topics.DropIfEmpty(topic)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("topic", string(topic)).Str("key", string(key)).Msg("leave")
}

// Disconnect drops every presence the connection held.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	for _, topic := range o.Registry.Unbind(sid) {
		o.leaveTopic(sid, topic)
	}
}

func (o *Orchestrator) Kick(sid core.SessionID) {
	if o.Registry.Cancel(sid) {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("kicked connection")
	}
}
