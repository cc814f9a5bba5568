package rtc

import (
	"errors"
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrForeignSender = errors.New("sender does not belong to a pion connection")

// WebRTCConnection implements core.PeerConn on a pion PeerConnection.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	remote domain.ParticipantID

	mu       sync.Mutex
	pending  []webrtc.ICECandidateInit
	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(core.RemoteTrack)
	onState  func(core.ConnState)
	closeErr error
	closed   bool
}

func newWebRTCConnection(pc *webrtc.PeerConnection, remote domain.ParticipantID) *WebRTCConnection {
	c := &WebRTCConnection{pc: pc, remote: remote}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", string(remote)).Str("peer_connection_state", s.String()).Msg("Peer state")
		c.mu.Lock()
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(connState(s))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("peer", string(remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(&remoteTrack{TrackRemote: track, levelExt: audioLevelExtID(receiver)})
		}
	})

	return c
}

func connState(s webrtc.PeerConnectionState) core.ConnState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return core.ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.ConnFailed
	case webrtc.PeerConnectionStateClosed:
		return core.ConnClosed
	default:
		return core.ConnNew
	}
}

func (c *WebRTCConnection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (c *WebRTCConnection) ApplyOffer(offer webrtc.SessionDescription, rollback bool) (webrtc.SessionDescription, error) {
	if rollback && c.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		rb := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
		if pending := c.pc.PendingLocalDescription(); pending != nil {
			rb.SDP = pending.SDP
		}
		if err := c.pc.SetLocalDescription(rb); err != nil {
			return webrtc.SessionDescription{}, err
		}
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	c.flushCandidates()

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	c.flushCandidates()
	return nil
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	if c.pc.RemoteDescription() == nil {
		c.mu.Lock()
		c.pending = append(c.pending, ci)
		c.mu.Unlock()
		return nil
	}
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) flushCandidates() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, ci := range pending {
		if err := c.pc.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "webrtc").Str("peer", string(c.remote)).Msg("add queued ice candidate")
		}
	}
}

// AddTrack attaches a local track and drains RTCP for its sender.
func (c *WebRTCConnection) AddTrack(track webrtc.TrackLocal) (core.Sender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return sender, nil
}

func (c *WebRTCConnection) RemoveTrack(s core.Sender) error {
	sender, ok := s.(*webrtc.RTPSender)
	if !ok {
		return ErrForeignSender
	}
	return c.pc.RemoveTrack(sender)
}

func (c *WebRTCConnection) Stable() bool {
	return c.pc.SignalingState() == webrtc.SignalingStateStable
}

func (c *WebRTCConnection) Stats() (webrtc.StatsReport, error) {
	return c.pc.GetStats(), nil
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

// OnTrack sets application-level callback for remote tracks.
func (c *WebRTCConnection) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnStateChange(fn func(core.ConnState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.closeErr
	}
	c.closed = true
	c.onICE, c.onTrack, c.onState = nil, nil, nil
	c.mu.Unlock()

	err := c.pc.Close()
	if err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("peer", string(c.remote)).Msg("close error")
	} else {
		log.Info().Str("module", "webrtc").Str("peer", string(c.remote)).Msg("closed")
	}
	c.mu.Lock()
	c.closeErr = err
	c.mu.Unlock()
	return err
}
