package app

import (
	"context"

	"github.com/dkeye/voicemesh/internal/domain"
)

// StaticIdentity is the identity configured for this client process.
type StaticIdentity struct {
	Participant domain.Participant
}

func NewStaticIdentity(id, name string) (*StaticIdentity, error) {
	pid := domain.NewParticipantID()
	if id != "" {
		var err error
		if pid, err = domain.ParseParticipantID(id); err != nil {
			return nil, err
		}
	}
	p, err := domain.NewParticipant(pid, name)
	if err != nil {
		return nil, err
	}
	return &StaticIdentity{Participant: *p}, nil
}

func (s *StaticIdentity) Current(context.Context) (domain.Participant, error) {
	return s.Participant, nil
}
