package core

import (
	"context"

	"github.com/dkeye/voicemesh/internal/domain"
)

type IdentityProvider interface {
	Current(ctx context.Context) (domain.Participant, error)
}

// ChannelDirectory resolves a channel to its relay topic and checks that
// the caller may join it.
type ChannelDirectory interface {
	Resolve(ctx context.Context, who domain.ParticipantID, channel domain.ChannelID) (domain.Topic, error)
}
