package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnsupported = errors.New("capture source not supported")
	ErrNoDevice    = errors.New("capture device unavailable")
)

type Config struct {
	AudioAddr  string
	CameraAddr string
	ScreenAddr string
	// IdleTimeout ends a stream that stopped delivering packets after its first one.
	IdleTimeout time.Duration
	// LevelExtID is the audio-level header extension id the audio encoder writes.
	LevelExtID uint8
}

// RTPIngest captures media that an external encoder (ffmpeg, gstreamer)
// pushes as RTP over UDP, one listen address per source kind.
type RTPIngest struct {
	cfg Config
}

func NewRTPIngest(cfg Config) *RTPIngest {
	return &RTPIngest{cfg: cfg}
}

func (c *RTPIngest) addr(kind core.SourceKind) string {
	switch kind {
	case core.SourceAudio:
		return c.cfg.AudioAddr
	case core.SourceCamera:
		return c.cfg.CameraAddr
	case core.SourceScreen:
		return c.cfg.ScreenAddr
	}
	return ""
}

func (c *RTPIngest) Supports(kind core.SourceKind) bool {
	return c.addr(kind) != ""
}

func (c *RTPIngest) Open(ctx context.Context, kind core.SourceKind) (core.CaptureStream, error) {
	addr := c.addr(kind)
	if addr == "" {
		return nil, fmt.Errorf("%s: %w", kind, ErrUnsupported)
	}

	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	if kind == core.SourceAudio {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	}
	track, err := webrtc.NewTrackLocalStaticRTP(codec, string(kind), "voicemesh")
	if err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s on %s: %v", ErrNoDevice, kind, addr, err)
	}

	s := &ingestStream{
		kind:  kind,
		track: track,
		conn:  pc,
		idle:  c.cfg.IdleTimeout,
		ext:   c.cfg.LevelExtID,
		done:  make(chan struct{}),
		taps:  make(map[int]func(*rtp.Packet)),
	}
	logger := log.With().Str("module", "capture").Str("kind", string(kind)).Str("addr", addr).Logger()
	go s.loop(&logger)
	logger.Info().Msg("ingest opened")
	return s, nil
}

type ingestStream struct {
	kind  core.SourceKind
	track *webrtc.TrackLocalStaticRTP
	conn  net.PacketConn
	idle  time.Duration
	ext   uint8

	once sync.Once
	done chan struct{}

	mu     sync.Mutex
	taps   map[int]func(*rtp.Packet)
	nextID int
}

func (s *ingestStream) Kind() core.SourceKind    { return s.kind }
func (s *ingestStream) Track() webrtc.TrackLocal { return s.track }
func (s *ingestStream) Done() <-chan struct{}    { return s.done }

func (s *ingestStream) AudioLevelExtensionID() uint8 {
	if s.kind != core.SourceAudio {
		return 0
	}
	return s.ext
}

func (s *ingestStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *ingestStream) Tap(fn func(*rtp.Packet)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.taps[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.taps, id)
		s.mu.Unlock()
	}
}

// loop reads RTP packets from the socket and writes them to the local track.
func (s *ingestStream) loop(logger *zerolog.Logger) {
	defer s.Close()

	buf := make([]byte, 1500)
	started := false
	for {
		if started && s.idle > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.idle))
		}
		n, _, err := s.conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logger.Info().Msg("ingest idle, source ended")
			} else {
				select {
				case <-s.done:
				default:
					logger.Error().Err(err).Msg("ingest read error, stopping")
				}
			}
			return
		}
		started = true

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			logger.Debug().Err(err).Msg("dropping non-RTP datagram")
			continue
		}
		if err := s.track.WriteRTP(pkt); err != nil {
			logger.Error().Err(err).Msg("track write error, stopping")
			return
		}

		s.mu.Lock()
		for _, fn := range s.taps {
			fn(pkt)
		}
		s.mu.Unlock()
	}
}
