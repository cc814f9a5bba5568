// Package mesh runs one participant's side of a peer-to-peer voice/video
// mesh: roster reconciliation, peer links, the local media slot, moderation
// and recovery, all serialized on a single event loop per session.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected      = errors.New("not connected to a voice channel")
	ErrAlreadyConnected  = errors.New("already connected to a voice channel")
	ErrForcedMuted       = errors.New("muted by a moderator")
	ErrUnsupported       = errors.New("capture source not supported")
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	ErrInvalidAction     = errors.New("invalid moderation action")
	ErrClosed            = errors.New("session closed")
)

const eventQueue = 256

type Deps struct {
	Relay     core.Relay
	Identity  core.IdentityProvider
	Directory core.ChannelDirectory
	Conns     core.ConnFactory
	Capture   core.Capturer
	// Sink receives inbound media; optional.
	Sink core.MediaSink
}

type videoSlot struct {
	kind   core.SourceKind
	stream core.CaptureStream
}

type micSlot struct {
	stream    core.CaptureStream
	removeTap func()
}

type Session struct {
	cfg  Config
	deps Deps

	events    chan func()
	quit      chan struct{}
	closeOnce sync.Once

	// Everything below up to obs is owned by the loop goroutine, logger included.
	status   Status
	epoch    uint64
	channel  domain.ChannelID
	topic    domain.Topic
	self     domain.Participant
	relay    core.RelayChannel
	local    LocalState
	wasMuted bool
	presence map[domain.ParticipantID]domain.Presence
	links    map[domain.ParticipantID]*peerLink
	mic      *micSlot
	video    videoSlot
	// pending is the source being acquired off-loop; acquireGen invalidates
	// acquisitions that a later toggle superseded.
	pending    core.SourceKind
	acquireGen uint64
	latency    Latency
	runCtx     context.Context
	runCancel  context.CancelFunc

	// deafened mirrors local.Deafened for media goroutines.
	deafened atomic.Bool

	obs         sync.Mutex
	current     State
	watchers    map[int]chan State
	nextWatcher int
	videos      map[domain.ParticipantID]core.RemoteTrack
	preview     webrtc.TrackLocal

	logger zerolog.Logger
}

func New(cfg Config, deps Deps) *Session {
	s := &Session{
		cfg:      cfg,
		deps:     deps,
		events:   make(chan func(), eventQueue),
		quit:     make(chan struct{}),
		presence: make(map[domain.ParticipantID]domain.Presence),
		links:    make(map[domain.ParticipantID]*peerLink),
		watchers: make(map[int]chan State),
		logger:   log.With().Str("module", "mesh").Logger(),
	}
	go s.run()
	return s
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.events:
			fn()
			s.publish()
		case <-s.quit:
			return
		}
	}
}

// post queues fn on the loop. Never call it from the loop itself.
func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.quit:
	}
}

// call runs fn on the loop and waits for it, observers included.
// A ctx error means fn never ran.
func (s *Session) call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	wrapped := func() {
		err := fn()
		s.publish()
		done <- err
	}
	select {
	case s.events <- wrapped:
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-s.quit:
		return ErrClosed
	}
}

// Close leaves the channel and stops the loop.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.call(context.Background(), func() error {
			s.leave("closed")
			return nil
		})
		close(s.quit)
	})
}

// Connect joins a voice channel. The local microphone is acquired first;
// failing to get one is not fatal.
func (s *Session) Connect(ctx context.Context, channel domain.ChannelID) error {
	if s.State().Status != StatusIdle {
		return ErrAlreadyConnected
	}
	self, err := s.deps.Identity.Current(ctx)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	topic, err := s.deps.Directory.Resolve(ctx, self.ID, channel)
	if err != nil {
		return fmt.Errorf("resolve channel %s: %w", channel, err)
	}

	mic := s.openMic(ctx)
	err = s.call(ctx, func() error {
		return s.join(self, channel, topic, mic)
	})
	if err != nil && mic != nil {
		_ = mic.Close()
	}
	return err
}

func (s *Session) openMic(ctx context.Context) core.CaptureStream {
	if s.deps.Capture == nil || !s.deps.Capture.Supports(core.SourceAudio) {
		log.Warn().Str("module", "mesh").Msg("no microphone, joining receive-only")
		return nil
	}
	mic, err := s.deps.Capture.Open(ctx, core.SourceAudio)
	if err != nil {
		log.Warn().Err(err).Str("module", "mesh").Msg("microphone unavailable, joining receive-only")
		return nil
	}
	return mic
}

// join is the loop half of Connect.
func (s *Session) join(self domain.Participant, channel domain.ChannelID, topic domain.Topic, mic core.CaptureStream) error {
	if s.status != StatusIdle {
		return ErrAlreadyConnected
	}
	s.epoch++
	s.status = StatusConnecting
	s.self = self
	s.channel = channel
	s.topic = topic
	s.presence = make(map[domain.ParticipantID]domain.Presence)
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.logger = log.With().Str("module", "mesh").Str("self", string(self.ID)).Str("channel", string(channel)).Logger()

	if mic != nil {
		s.installMic(mic)
	}

	epoch := s.epoch
	ch, err := s.deps.Relay.Join(topic, self.ID, s.selfPresence(), func(ev core.RelayEvent) {
		s.post(func() { s.onRelayEvent(epoch, ev) })
	})
	if err != nil {
		s.releaseMic()
		s.runCancel()
		s.status = StatusIdle
		s.channel, s.topic = "", ""
		return fmt.Errorf("join %s: %w", topic, err)
	}
	s.relay = ch
	s.status = StatusConnected
	go s.every(s.runCtx, s.cfg.RecoveryInterval, s.recoveryTick)
	go s.latencyLoop(s.runCtx, epoch)
	s.logger.Info().Str("topic", string(topic)).Msg("joined voice channel")
	return nil
}

func (s *Session) Disconnect(ctx context.Context) error {
	return s.call(ctx, func() error {
		if s.status == StatusIdle {
			return ErrNotConnected
		}
		s.leave("disconnect")
		return nil
	})
}

// leave tears down every channel-scoped entity. A no-op when idle.
func (s *Session) leave(reason string) {
	if s.status == StatusIdle {
		return
	}
	s.epoch++
	s.acquireGen++
	s.pending = core.SourceNone

	for id := range s.links {
		s.removeLink(id, reason)
	}
	s.releaseVideo()
	s.releaseMic()
	if s.relay != nil {
		if err := s.relay.Leave(); err != nil {
			s.logger.Warn().Err(err).Msg("relay leave")
		}
		s.relay = nil
	}
	if s.runCancel != nil {
		s.runCancel()
	}

	s.logger.Info().Str("reason", reason).Msg("left voice channel")
	s.status = StatusIdle
	s.channel, s.topic = "", ""
	s.presence = make(map[domain.ParticipantID]domain.Presence)
	s.latency = Latency{}
	// Moderator pins belong to the channel; user mute and deafen carry over.
	if s.local.ForcedMuted {
		s.local.ForcedMuted = false
		s.local.Muted = s.local.Deafened
	}
	s.local.Speaking = false
}

func (s *Session) selfPresence() domain.Presence {
	return domain.Presence{
		DisplayName: s.self.DisplayName,
		Muted:       s.local.Muted,
		Deafened:    s.local.Deafened,
		ForcedMuted: s.local.ForcedMuted,
		CameraOn:    s.video.kind == core.SourceCamera,
		ScreenOn:    s.video.kind == core.SourceScreen,
	}
}

// trackPresence republishes the local flags so peers' rosters follow.
func (s *Session) trackPresence() {
	if s.relay == nil {
		return
	}
	if err := s.relay.Track(s.selfPresence()); err != nil {
		s.logger.Warn().Err(err).Msg("presence track")
	}
}
