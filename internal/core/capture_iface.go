package core

import (
	"context"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type SourceKind string

const (
	SourceNone   SourceKind = ""
	SourceAudio  SourceKind = "audio"
	SourceCamera SourceKind = "camera"
	SourceScreen SourceKind = "screen"
)

// CaptureStream is a local capture holding a device.
type CaptureStream interface {
	Kind() SourceKind
	Track() webrtc.TrackLocal
	// Done is closed when the source ends, out-of-band or through Close.
	Done() <-chan struct{}
	// Close releases the underlying device. Safe to call twice.
	Close() error
}

// PacketTap is implemented by capture streams that expose their outgoing packets.
type PacketTap interface {
	Tap(fn func(*rtp.Packet)) (remove func())
	// AudioLevelExtensionID is the header extension id carrying audio levels, 0 when none.
	AudioLevelExtensionID() uint8
}

type Capturer interface {
	Supports(kind SourceKind) bool
	Open(ctx context.Context, kind SourceKind) (CaptureStream, error)
}

// PacketWriter receives inbound media for output (playback, recording).
type PacketWriter interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

type MediaSink interface {
	Open(from domain.ParticipantID, track RemoteTrack) (PacketWriter, error)
}
