package orch

import (
	"encoding/json"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) Broadcast(sid core.SessionID, topic domain.Topic, event string, payload json.RawMessage) {
	if !o.Registry.InTopic(sid, topic) {
		o.replyError(sid, "not joined")
		return
	}
	t, ok := o.Topics.Get(topic)
	if !ok {
		return
	}
	o.fanout(t, sid, domain.RelayFrame{
		Type:    domain.FrameBroadcast,
		Topic:   topic,
		Event:   event,
		Payload: payload,
	})
}

// fanout sends f to every member of t except from and applies the
// backpressure policy to members whose queues are full.
func (o *Orchestrator) fanout(t core.TopicService, from core.SessionID, f domain.RelayFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("marshal frame")
		return
	}
	res := t.Broadcast(from, b)
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(t, slow) {
		case app.KickMember:
			o.Kick(slow)
		case app.DropFrame, app.NoAction:
		}
	}
}
