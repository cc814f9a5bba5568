package app

import (
	"context"
	"strings"
	"testing"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticDirectory(t *testing.T) {
	ctx := context.Background()

	open := StaticDirectory{}
	topic, err := open.Resolve(ctx, "a", "general")
	require.NoError(t, err)
	assert.Equal(t, domain.Topic("voice:general"), topic)
	_, err = open.Resolve(ctx, "a", "")
	assert.ErrorIs(t, err, ErrChannelNotFound)

	dir := StaticDirectory{Channels: map[domain.ChannelID][]domain.ParticipantID{
		"general": nil,
		"staff":   {"a"},
	}}
	_, err = dir.Resolve(ctx, "b", "general")
	require.NoError(t, err)
	_, err = dir.Resolve(ctx, "b", "staff")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = dir.Resolve(ctx, "a", "staff")
	require.NoError(t, err)
	_, err = dir.Resolve(ctx, "a", "random")
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestStaticIdentity(t *testing.T) {
	id, err := NewStaticIdentity("z9", "Zed")
	require.NoError(t, err)
	p, err := id.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("z9"), p.ID)
	assert.Equal(t, "Zed", p.DisplayName)

	generated, err := NewStaticIdentity("", "Ann")
	require.NoError(t, err)
	assert.NotEmpty(t, generated.Participant.ID)

	_, err = NewStaticIdentity(strings.Repeat("x", domain.MaxParticipantIDLen+1), "Ann")
	assert.ErrorIs(t, err, domain.ErrIDTooLong)
	_, err = NewStaticIdentity("a", "")
	assert.ErrorIs(t, err, domain.ErrUsernameEmpty)
}

func TestRegistryTopics(t *testing.T) {
	r := NewRegistry()
	canceled := false
	r.Bind("s1", nil, func() { canceled = true })

	assert.True(t, r.AddTopic("s1", "voice:a"))
	assert.True(t, r.InTopic("s1", "voice:a"))
	assert.False(t, r.AddTopic("missing", "voice:a"))

	r.RemoveTopic("s1", "voice:a")
	assert.False(t, r.InTopic("s1", "voice:a"))

	r.AddTopic("s1", "voice:b")
	assert.True(t, r.Cancel("s1"))
	assert.True(t, canceled)
	assert.Equal(t, []domain.Topic{"voice:b"}, r.Unbind("s1"))
	_, ok := r.Conn("s1")
	assert.False(t, ok)
	assert.False(t, r.Cancel("s1"))
}

func TestTopicManagerDropIfEmpty(t *testing.T) {
	m := NewTopicManager()
	topic := m.GetOrCreate("voice:a")
	assert.Same(t, topic, m.GetOrCreate("voice:a"))

	m.DropIfEmpty("voice:a")
	_, ok := m.Get("voice:a")
	assert.False(t, ok)
}
