package mesh

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// SendModeration addresses a moderation action to target over the channel.
// Targets enforce actions themselves; one aimed at self is applied directly.
func (s *Session) SendModeration(ctx context.Context, target domain.ParticipantID, action domain.ModerationAction, targetChannel domain.ChannelID) error {
	if !action.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	if action == domain.ModMove && targetChannel == "" {
		return fmt.Errorf("%w: move needs a target channel", ErrInvalidAction)
	}
	msg := domain.ModerationMessage{Action: action, To: target}
	if action == domain.ModMove {
		msg.TargetChannel = targetChannel
	}

	return s.call(ctx, func() error {
		if s.status != StatusConnected {
			return ErrNotConnected
		}
		if target == s.self.ID {
			s.applyModeration(msg)
			return nil
		}
		return s.relay.Broadcast(domain.EventModeration, msg)
	})
}

// applyModeration enforces an action aimed at this participant. Applying the
// same action again leaves the state as it is.
func (s *Session) applyModeration(msg domain.ModerationMessage) {
	if s.status == StatusIdle {
		return
	}
	s.logger.Info().Str("action", string(msg.Action)).Msg("moderation")

	switch msg.Action {
	case domain.ModKick:
		s.leave("kicked")
	case domain.ModForceMute:
		if s.local.ForcedMuted && s.local.Muted {
			return
		}
		s.local.ForcedMuted = true
		s.local.Muted = true
		s.applyMute()
	case domain.ModForceUnmute:
		if !s.local.ForcedMuted {
			return
		}
		s.local.ForcedMuted = false
		s.local.Muted = s.local.Deafened
		s.applyMute()
	case domain.ModMove:
		if msg.TargetChannel == "" || msg.TargetChannel == s.channel {
			return
		}
		s.leave("moved")
		s.scheduleJoin(msg.TargetChannel)
	default:
		s.logger.Debug().Str("action", string(msg.Action)).Msg("unknown moderation action")
	}
}

// scheduleJoin rejoins channel after the move delay, unless the session
// did anything else in between.
func (s *Session) scheduleJoin(channel domain.ChannelID) {
	epoch := s.epoch
	time.AfterFunc(s.cfg.MoveDelay, func() {
		s.post(func() {
			if s.epoch != epoch || s.status != StatusIdle {
				return
			}
			go func() {
				if err := s.Connect(context.Background(), channel); err != nil {
					log.Warn().Err(err).Str("module", "mesh").Str("channel", string(channel)).Msg("join after move")
				}
			}()
		})
	})
}
