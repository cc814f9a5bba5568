package mesh

import (
	"encoding/json"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

// onRelayEvent handles one relay event. Events of an earlier channel
// session are dropped.
func (s *Session) onRelayEvent(epoch uint64, ev core.RelayEvent) {
	if epoch != s.epoch || s.status == StatusIdle {
		return
	}
	switch ev.Kind {
	case core.PresenceSync, core.PresenceJoin, core.PresenceLeave:
		s.presence = ev.Presence
		if s.presence == nil {
			s.presence = make(map[domain.ParticipantID]domain.Presence)
		}
		s.reconcile()
	case core.BroadcastEvent:
		s.onBroadcast(ev.Event, ev.Payload)
	}
}

func (s *Session) onBroadcast(event string, payload json.RawMessage) {
	switch event {
	case domain.EventSignal:
		var msg domain.SignalMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.Debug().Err(err).Msg("malformed signal dropped")
			return
		}
		s.handleSignal(msg)
	case domain.EventModeration:
		var msg domain.ModerationMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.Debug().Err(err).Msg("malformed moderation dropped")
			return
		}
		if msg.To != s.self.ID {
			return
		}
		s.applyModeration(msg)
	default:
		s.logger.Debug().Str("event", event).Msg("unknown broadcast event")
	}
}

// reconcile converges the links to the remote participants in presence.
// Running it twice on the same roster changes nothing.
func (s *Session) reconcile() {
	for id := range s.presence {
		if id == s.self.ID {
			continue
		}
		if _, ok := s.links[id]; !ok {
			s.ensureLink(id, s.self.ID.Initiates(id))
		}
	}
	for id := range s.links {
		if _, ok := s.presence[id]; !ok {
			s.removeLink(id, "left")
		}
	}
}
