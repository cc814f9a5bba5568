package core

import (
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type ConnState int

const (
	ConnNew ConnState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnected
	ConnFailed
	ConnClosed
)

// Terminal reports states that tear the link down.
func (s ConnState) Terminal() bool {
	return s == ConnDisconnected || s == ConnFailed || s == ConnClosed
}

func (s ConnState) String() string {
	switch s {
	case ConnNew:
		return "new"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	}
	return "unknown"
}

// Sender is the outgoing side of one local track on a PeerConn.
// *webrtc.RTPSender satisfies it.
type Sender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

// RemoteTrack is an inbound media track. *webrtc.TrackRemote plus the
// negotiated audio-level header extension id (0 when absent).
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
	AudioLevelExtensionID() uint8
}

// PeerConn is one point-to-point media session with a remote participant.
type PeerConn interface {
	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// ApplyOffer applies a remote offer and returns the local answer.
	// With rollback set, a pending local offer is rolled back first.
	ApplyOffer(offer webrtc.SessionDescription, rollback bool) (webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate, queueing it until
	// a remote description exists.
	AddICECandidate(webrtc.ICECandidateInit) error

	AddTrack(track webrtc.TrackLocal) (Sender, error)
	RemoveTrack(s Sender) error

	// Stable reports whether no negotiation is in flight.
	Stable() bool
	Stats() (webrtc.StatsReport, error)

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(RemoteTrack))
	OnStateChange(func(ConnState))
	Close() error
}

type ConnFactory interface {
	NewConn(remote domain.ParticipantID) (PeerConn, error)
}
