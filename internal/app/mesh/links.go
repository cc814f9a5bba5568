package mesh

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/dkeye/voicemesh/internal/app/speaking"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// peerLink is everything held for one remote participant. removeLink is
// the only place that releases it.
type peerLink struct {
	id        domain.ParticipantID
	conn      core.PeerConn
	initiator bool
	ctx       context.Context
	cancel    context.CancelFunc

	audio core.Sender
	video core.Sender

	inAudio  core.RemoteTrack
	inVideo  core.RemoteTrack
	speaking bool
	// videoSeen is the unix-nano time of the last inbound video packet,
	// written by the track reader.
	videoSeen atomic.Int64

	missingSince time.Time
	lastRecovery time.Time
	renegAttempt int
	renegTimer   *time.Timer
}

func (l *peerLink) videoLive(now time.Time, staleAfter time.Duration) bool {
	if l.inVideo == nil {
		return false
	}
	if staleAfter <= 0 {
		return true
	}
	return now.Sub(time.Unix(0, l.videoSeen.Load())) <= staleAfter
}

// ensureLink returns the link to id, creating it with the current local
// tracks attached. The initiator sends the first offer right away.
func (s *Session) ensureLink(id domain.ParticipantID, initiator bool) *peerLink {
	if l, ok := s.links[id]; ok {
		return l
	}
	conn, err := s.deps.Conns.NewConn(id)
	if err != nil {
		s.logger.Error().Err(err).Str("peer", string(id)).Msg("create peer connection")
		return nil
	}

	ctx, cancel := context.WithCancel(s.runCtx)
	l := &peerLink{id: id, conn: conn, initiator: initiator, ctx: ctx, cancel: cancel}
	s.links[id] = l

	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		s.post(func() {
			if s.links[id] == l {
				s.sendSignal(id, domain.SignalICE, c)
			}
		})
	})
	conn.OnTrack(func(t core.RemoteTrack) {
		s.post(func() { s.onRemoteTrack(l, t) })
	})
	conn.OnStateChange(func(st core.ConnState) {
		s.post(func() { s.onConnState(l, st) })
	})

	if s.mic != nil {
		if sender, err := conn.AddTrack(s.mic.stream.Track()); err != nil {
			s.logger.Warn().Err(err).Str("peer", string(id)).Msg("attach audio")
		} else {
			l.audio = sender
			if s.local.Muted {
				if err := sender.ReplaceTrack(nil); err != nil {
					s.logger.Warn().Err(err).Str("peer", string(id)).Msg("silence audio on new link")
				}
			}
		}
	}
	if s.video.stream != nil {
		if sender, err := conn.AddTrack(s.video.stream.Track()); err != nil {
			s.logger.Warn().Err(err).Str("peer", string(id)).Msg("attach video")
		} else {
			l.video = sender
		}
	}

	s.logger.Info().Str("peer", string(id)).Bool("initiator", initiator).Msg("peer link created")
	if initiator {
		s.sendOffer(l)
	}
	return l
}

// removeLink releases the connection, inbound media readers, speaking
// state and sender records of id. Safe when no link exists.
func (s *Session) removeLink(id domain.ParticipantID, reason string) {
	l, ok := s.links[id]
	if !ok {
		return
	}
	delete(s.links, id)

	l.cancel()
	if l.renegTimer != nil {
		l.renegTimer.Stop()
		l.renegTimer = nil
	}
	l.audio, l.video = nil, nil
	l.inAudio, l.inVideo = nil, nil
	l.speaking = false
	if err := l.conn.Close(); err != nil {
		s.logger.Warn().Err(err).Str("peer", string(id)).Msg("close peer connection")
	}
	s.logger.Info().Str("peer", string(id)).Str("reason", reason).Msg("peer link removed")
}

func (s *Session) onConnState(l *peerLink, st core.ConnState) {
	if s.links[l.id] != l {
		return
	}
	s.logger.Debug().Str("peer", string(l.id)).Str("state", st.String()).Msg("link state")
	if st.Terminal() {
		s.removeLink(l.id, st.String())
	}
}

func (s *Session) onRemoteTrack(l *peerLink, t core.RemoteTrack) {
	if s.links[l.id] != l {
		return
	}
	writer := s.openSink(l.id, t)

	switch t.Kind() {
	case webrtc.RTPCodecTypeAudio:
		l.inAudio = t
		out := func(pkt *rtp.Packet) {
			if writer != nil && !s.deafened.Load() {
				_ = writer.WriteRTP(pkt)
			}
		}
		onChange := func(v bool) {
			s.post(func() {
				if s.links[l.id] == l && l.inAudio == t {
					l.speaking = v
				}
			})
		}
		go func() {
			speaking.Monitor(l.ctx, s.cfg.Speaking, t, out, onChange)
			closeWriter(writer)
		}()
	case webrtc.RTPCodecTypeVideo:
		l.inVideo = t
		l.videoSeen.Store(time.Now().UnixNano())
		go s.readVideo(l, t, writer)
	}
	s.logger.Info().Str("peer", string(l.id)).Str("kind", t.Kind().String()).Msg("inbound track")
}

// readVideo drains an inbound video track, recording when packets arrive.
func (s *Session) readVideo(l *peerLink, t core.RemoteTrack, writer core.PacketWriter) {
	defer closeWriter(writer)
	for l.ctx.Err() == nil {
		pkt, _, err := t.ReadRTP()
		if err != nil {
			break
		}
		l.videoSeen.Store(time.Now().UnixNano())
		if writer != nil {
			_ = writer.WriteRTP(pkt)
		}
	}
	s.post(func() {
		if s.links[l.id] == l && l.inVideo == t {
			l.inVideo = nil
		}
	})
}

func (s *Session) openSink(id domain.ParticipantID, t core.RemoteTrack) core.PacketWriter {
	if s.deps.Sink == nil {
		return nil
	}
	w, err := s.deps.Sink.Open(id, t)
	if err != nil {
		s.logger.Warn().Err(err).Str("peer", string(id)).Msg("open media sink")
		return nil
	}
	return w
}

func closeWriter(w core.PacketWriter) {
	if w != nil {
		_ = w.Close()
	}
}

// handleSignal applies one signaling message addressed to this participant.
// Anything else, or anything for a link that does not exist, is dropped.
func (s *Session) handleSignal(msg domain.SignalMessage) {
	if msg.To != s.self.ID || msg.From == "" || msg.From == s.self.ID {
		return
	}
	switch msg.Kind {
	case domain.SignalOffer:
		var offer webrtc.SessionDescription
		if err := json.Unmarshal(msg.Data, &offer); err != nil {
			s.logger.Debug().Err(err).Str("peer", string(msg.From)).Msg("malformed offer")
			return
		}
		s.onOffer(msg.From, offer)
	case domain.SignalAnswer:
		l, ok := s.links[msg.From]
		if !ok {
			s.logger.Debug().Str("peer", string(msg.From)).Msg("answer for unknown link")
			return
		}
		var answer webrtc.SessionDescription
		if err := json.Unmarshal(msg.Data, &answer); err != nil {
			s.logger.Debug().Err(err).Str("peer", string(msg.From)).Msg("malformed answer")
			return
		}
		if err := l.conn.ApplyAnswer(answer); err != nil {
			s.logger.Warn().Err(err).Str("peer", string(msg.From)).Msg("apply answer")
		}
	case domain.SignalICE:
		l, ok := s.links[msg.From]
		if !ok {
			return
		}
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(msg.Data, &cand); err != nil {
			s.logger.Debug().Err(err).Str("peer", string(msg.From)).Msg("malformed candidate")
			return
		}
		if err := l.conn.AddICECandidate(cand); err != nil {
			s.logger.Debug().Err(err).Str("peer", string(msg.From)).Msg("add candidate")
		}
	default:
		s.logger.Debug().Str("kind", string(msg.Kind)).Msg("unknown signal kind")
	}
}

// onOffer answers a remote offer. On collision the side that initiates by
// id order keeps its own offer; the other rolls back and answers.
func (s *Session) onOffer(from domain.ParticipantID, offer webrtc.SessionDescription) {
	l, existed := s.links[from]
	rollback := false
	if existed && !l.conn.Stable() {
		if s.self.ID.Initiates(from) {
			s.logger.Debug().Str("peer", string(from)).Msg("offer collision, keeping ours")
			return
		}
		rollback = true
	}
	if !existed {
		if l = s.ensureLink(from, false); l == nil {
			return
		}
	}

	answer, err := l.conn.ApplyOffer(offer, rollback)
	if err != nil && existed {
		s.logger.Warn().Err(err).Str("peer", string(from)).Msg("apply offer, recreating link")
		s.removeLink(from, "offer failed")
		if l = s.ensureLink(from, false); l == nil {
			return
		}
		rollback = false
		answer, err = l.conn.ApplyOffer(offer, false)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("peer", string(from)).Msg("apply offer")
		s.removeLink(from, "offer failed")
		return
	}
	s.sendSignal(from, domain.SignalAnswer, answer)

	if rollback || offerMisses(offer, l.audio != nil, l.video != nil) {
		s.renegotiate(l)
	}
}

// offerMisses reports whether offer lacks a media section for a kind we send.
func offerMisses(offer webrtc.SessionDescription, audio, video bool) bool {
	if !audio && !video {
		return false
	}
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(offer.SDP)); err != nil {
		return true
	}
	has := make(map[string]bool, len(desc.MediaDescriptions))
	for _, m := range desc.MediaDescriptions {
		has[m.MediaName.Media] = true
	}
	return (audio && !has["audio"]) || (video && !has["video"])
}

// renegotiate sends a fresh offer once the link is stable, retrying with
// linear backoff a bounded number of times.
func (s *Session) renegotiate(l *peerLink) {
	l.renegAttempt = 0
	s.tryOffer(l)
}

func (s *Session) tryOffer(l *peerLink) {
	if s.links[l.id] != l || l.renegTimer != nil {
		return
	}
	if l.conn.Stable() {
		s.sendOffer(l)
		return
	}
	if l.renegAttempt >= s.cfg.RenegotiateRetries {
		s.logger.Warn().Str("peer", string(l.id)).Int("attempts", l.renegAttempt).Msg("renegotiation abandoned")
		return
	}
	l.renegAttempt++
	delay := s.cfg.RenegotiateBackoff * time.Duration(l.renegAttempt)
	l.renegTimer = time.AfterFunc(delay, func() {
		s.post(func() {
			l.renegTimer = nil
			s.tryOffer(l)
		})
	})
}

func (s *Session) sendOffer(l *peerLink) {
	offer, err := l.conn.CreateOffer()
	if err != nil {
		s.logger.Warn().Err(err).Str("peer", string(l.id)).Msg("create offer")
		return
	}
	s.sendSignal(l.id, domain.SignalOffer, offer)
}

func (s *Session) sendSignal(to domain.ParticipantID, kind domain.SignalKind, data any) {
	if s.relay == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal signal")
		return
	}
	msg := domain.SignalMessage{Kind: kind, From: s.self.ID, To: to, Data: raw}
	if err := s.relay.Broadcast(domain.EventSignal, msg); err != nil {
		s.logger.Warn().Err(err).Str("peer", string(to)).Str("kind", string(kind)).Msg("send signal")
	}
}
