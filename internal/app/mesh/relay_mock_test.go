package mesh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/core/mocks"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func mockedSession(t *testing.T, relay core.Relay) (*Session, *fakeCapturer, *fakeNet) {
	t.Helper()
	ident, err := app.NewStaticIdentity("a1", "Ann")
	require.NoError(t, err)
	capt := newFakeCapturer()
	net := newFakeNet()
	s := New(testConfig(), Deps{
		Relay:     relay,
		Identity:  ident,
		Directory: app.StaticDirectory{},
		Conns:     net.factory("a1"),
		Capture:   capt,
	})
	t.Cleanup(s.Close)
	return s, capt, net
}

func TestConnectRelayFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	relay := mocks.NewMockRelay(ctrl)
	relay.EXPECT().
		Join(domain.Topic("voice:lobby"), domain.ParticipantID("a1"), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("relay down"))

	s, capt, _ := mockedSession(t, relay)
	err := s.Connect(context.Background(), lobby)
	require.Error(t, err)
	assert.Equal(t, StatusIdle, s.State().Status)
	assert.True(t, capt.last(core.SourceAudio).closed.Load(), "microphone released")
}

func TestConnectUnknownChannel(t *testing.T) {
	ctrl := gomock.NewController(t)
	relay := mocks.NewMockRelay(ctrl)

	ident, err := app.NewStaticIdentity("a1", "Ann")
	require.NoError(t, err)
	s := New(testConfig(), Deps{
		Relay:     relay,
		Identity:  ident,
		Directory: app.StaticDirectory{Channels: map[domain.ChannelID][]domain.ParticipantID{"staff": {"z9"}}},
		Conns:     newFakeNet().factory("a1"),
		Capture:   newFakeCapturer(),
	})
	t.Cleanup(s.Close)

	require.ErrorIs(t, s.Connect(context.Background(), lobby), app.ErrChannelNotFound)
	require.ErrorIs(t, s.Connect(context.Background(), "staff"), app.ErrForbidden)
}

func TestRelayInteractions(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	relay := mocks.NewMockRelay(ctrl)
	ch := mocks.NewMockRelayChannel(ctrl)

	var joined domain.Presence
	relay.EXPECT().
		Join(domain.Topic("voice:lobby"), domain.ParticipantID("a1"), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ domain.Topic, _ domain.ParticipantID, meta domain.Presence, _ core.RelayHandler) (core.RelayChannel, error) {
			joined = meta
			return ch, nil
		})

	s, _, _ := mockedSession(t, relay)
	require.NoError(t, s.ToggleMute(ctx))
	require.NoError(t, s.Connect(ctx, lobby))
	assert.Equal(t, "Ann", joined.DisplayName)
	assert.True(t, joined.Muted, "presence carries the mute chosen before joining")

	var tracked domain.Presence
	ch.EXPECT().Track(gomock.Any()).DoAndReturn(func(meta domain.Presence) error {
		tracked = meta
		return nil
	})
	require.NoError(t, s.ToggleMute(ctx))
	assert.False(t, tracked.Muted)

	ch.EXPECT().
		Broadcast(domain.EventModeration, domain.ModerationMessage{Action: domain.ModMove, To: "b2", TargetChannel: "den"}).
		Return(nil)
	require.NoError(t, s.SendModeration(ctx, "b2", domain.ModMove, "den"))

	ch.EXPECT().
		Broadcast(domain.EventModeration, domain.ModerationMessage{Action: domain.ModKick, To: "b2"}).
		Return(errors.New("queue full"))
	require.Error(t, s.SendModeration(ctx, "b2", domain.ModKick, ""))

	ch.EXPECT().Leave().Return(nil)
	require.NoError(t, s.Disconnect(ctx))
}

func TestStaleRelayEventsIgnored(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	relay := mocks.NewMockRelay(ctrl)
	ch := mocks.NewMockRelayChannel(ctrl)

	var handler core.RelayHandler
	relay.EXPECT().Join(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ domain.Topic, _ domain.ParticipantID, _ domain.Presence, h core.RelayHandler) (core.RelayChannel, error) {
			handler = h
			return ch, nil
		}).Times(2)
	ch.EXPECT().Leave().Return(nil)

	s, _, net := mockedSession(t, relay)
	require.NoError(t, s.Connect(ctx, lobby))
	first := handler
	require.NoError(t, s.Disconnect(ctx))
	require.NoError(t, s.Connect(ctx, lobby))

	// a late sync from the previous membership must not create links
	first(core.RelayEvent{Kind: core.PresenceSync, Presence: map[domain.ParticipantID]domain.Presence{
		"a1": {DisplayName: "Ann"},
		"z9": {DisplayName: "Zed"},
	}})
	handler(core.RelayEvent{Kind: core.PresenceSync, Presence: map[domain.ParticipantID]domain.Presence{
		"a1": {DisplayName: "Ann"},
	}})
	require.Eventually(t, func() bool {
		st := s.State()
		return len(st.Roster) == 1 && st.Roster[0].Self
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, net.createdCount("a1", "z9"))

	ch.EXPECT().Leave().Return(nil)
}
