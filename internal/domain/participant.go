// Package domain holds the participant, presence and message types shared by
// the relay and the mesh client, with their validation and id ordering.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxParticipantIDLen = 64
	MaxDisplayNameLen   = 36
)

var (
	ErrIDEmpty         = errors.New("participant id empty")
	ErrIDTooLong       = errors.New("participant id too long")
	ErrUsernameTooLong = errors.New("display name too long")
	ErrUsernameEmpty   = errors.New("display name empty")
)

// ParticipantID is an opaque identity advertised in presence.
type ParticipantID string

func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}

func ParseParticipantID(s string) (ParticipantID, error) {
	if len(s) == 0 {
		return "", ErrIDEmpty
	}
	if len(s) > MaxParticipantIDLen {
		return "", ErrIDTooLong
	}
	return ParticipantID(s), nil
}

// Initiates reports whether id sends the first offer to remote.
// The order is a byte-wise string comparison; both ends must use it,
// and for any two distinct ids exactly one side initiates.
func (id ParticipantID) Initiates(remote ParticipantID) bool {
	return id > remote
}

type Participant struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"display_name"`
}

func NewParticipant(id ParticipantID, displayName string) (*Participant, error) {
	if id == "" {
		return nil, ErrIDEmpty
	}
	p := &Participant{ID: id}
	if err := p.SetDisplayName(displayName); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Participant) SetDisplayName(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrUsernameTooLong
	}
	p.DisplayName = name
	return nil
}
