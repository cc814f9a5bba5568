package app

import (
	"context"
	"errors"
	"slices"

	"github.com/dkeye/voicemesh/internal/domain"
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrForbidden       = errors.New("not allowed to join channel")
)

// StaticDirectory maps channel ids to relay topics. With Channels set, only
// the listed channels exist; a channel with a non-empty member list admits
// only those participants.
type StaticDirectory struct {
	Channels map[domain.ChannelID][]domain.ParticipantID
}

func (d StaticDirectory) Resolve(_ context.Context, who domain.ParticipantID, channel domain.ChannelID) (domain.Topic, error) {
	if channel == "" {
		return "", ErrChannelNotFound
	}
	if d.Channels == nil {
		return domain.TopicFor(channel), nil
	}
	members, ok := d.Channels[channel]
	if !ok {
		return "", ErrChannelNotFound
	}
	if len(members) > 0 && !slices.Contains(members, who) {
		return "", ErrForbidden
	}
	return domain.TopicFor(channel), nil
}
