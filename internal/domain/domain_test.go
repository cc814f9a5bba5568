package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitiatesExactlyOneSide(t *testing.T) {
	pairs := [][2]ParticipantID{
		{"a1", "b2"},
		{"b2", "a1"},
		{"zz", "z"},
		{"0f3c", "0f3b"},
	}
	for _, p := range pairs {
		a, b := p[0], p[1]
		assert.NotEqual(t, a.Initiates(b), b.Initiates(a), "%s vs %s", a, b)
	}
	assert.True(t, ParticipantID("b2").Initiates("a1"))
	assert.False(t, ParticipantID("a1").Initiates("a1"))
}

func TestNewParticipant(t *testing.T) {
	p, err := NewParticipant("a1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.DisplayName)

	_, err = NewParticipant("", "alice")
	assert.ErrorIs(t, err, ErrIDEmpty)

	_, err = NewParticipant("a1", "")
	assert.ErrorIs(t, err, ErrUsernameEmpty)

	_, err = NewParticipant("a1", strings.Repeat("x", MaxDisplayNameLen+1))
	assert.ErrorIs(t, err, ErrUsernameTooLong)
}

func TestParseParticipantID(t *testing.T) {
	id, err := ParseParticipantID("b2")
	require.NoError(t, err)
	assert.Equal(t, ParticipantID("b2"), id)

	_, err = ParseParticipantID(strings.Repeat("x", MaxParticipantIDLen+1))
	assert.ErrorIs(t, err, ErrIDTooLong)

	assert.NotEmpty(t, NewParticipantID())
}

func TestModerationActionValid(t *testing.T) {
	assert.True(t, ModKick.Valid())
	assert.True(t, ModMove.Valid())
	assert.False(t, ModerationAction("ban").Valid())
}

func TestTopicFor(t *testing.T) {
	assert.Equal(t, Topic("voice:general"), TopicFor("general"))
}
