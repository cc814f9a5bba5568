package mesh

import (
	"context"
	"fmt"

	"github.com/dkeye/voicemesh/internal/app/speaking"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// installMic takes ownership of the microphone stream before any link
// exists; ensureLink attaches it to links created afterwards. Loop only.
func (s *Session) installMic(mic core.CaptureStream) {
	s.mic = &micSlot{stream: mic}

	if tap, ok := mic.(core.PacketTap); ok && tap.AudioLevelExtensionID() != 0 {
		det := speaking.NewDetector(s.cfg.Speaking)
		ext := tap.AudioLevelExtensionID()
		s.mic.removeTap = tap.Tap(func(pkt *rtp.Packet) {
			amp, ok := speaking.PacketAmplitude(pkt, ext)
			if !ok {
				return
			}
			if v, changed := det.Push(amp); changed {
				// the tap runs under the capture stream's lock
				go s.post(func() {
					if s.mic != nil && s.mic.stream == mic {
						s.local.Speaking = v
					}
				})
			}
		})
	}

	s.applyMute()
	go s.watchMic(s.runCtx, mic)
}

func (s *Session) watchMic(ctx context.Context, mic core.CaptureStream) {
	select {
	case <-mic.Done():
		s.post(func() {
			if s.mic != nil && s.mic.stream == mic {
				s.logger.Warn().Msg("microphone ended")
				s.releaseMic()
			}
		})
	case <-ctx.Done():
	}
}

// releaseMic silences every audio sender and closes the microphone.
func (s *Session) releaseMic() {
	if s.mic == nil {
		return
	}
	mic := s.mic
	s.mic = nil
	if mic.removeTap != nil {
		mic.removeTap()
	}
	for _, l := range s.links {
		if l.audio != nil {
			if err := l.audio.ReplaceTrack(nil); err != nil {
				s.logger.Debug().Err(err).Str("peer", string(l.id)).Msg("silence audio sender")
			}
		}
	}
	_ = mic.stream.Close()
	s.local.Speaking = false
}

// applyMute points every audio sender at the microphone or at nothing.
// Muting never renegotiates.
func (s *Session) applyMute() {
	var track webrtc.TrackLocal
	if s.mic != nil && !s.local.Muted {
		track = s.mic.stream.Track()
	}
	for _, l := range s.links {
		if l.audio == nil {
			continue
		}
		if err := l.audio.ReplaceTrack(track); err != nil {
			s.logger.Warn().Err(err).Str("peer", string(l.id)).Msg("replace audio track")
		}
	}
	s.deafened.Store(s.local.Deafened)
	s.trackPresence()
}

// ToggleMute flips the user's mute. Unmuting is refused while a moderator
// pinned the mute, and also lifts deafen.
func (s *Session) ToggleMute(ctx context.Context) error {
	return s.call(ctx, func() error {
		if s.local.Muted {
			if s.local.ForcedMuted {
				return ErrForcedMuted
			}
			s.local.Muted = false
			s.local.Deafened = false
		} else {
			s.local.Muted = true
		}
		s.applyMute()
		return nil
	})
}

// ToggleDeafen stops inbound audio playback. Deafening mutes; undeafening
// restores the mute the user had before.
func (s *Session) ToggleDeafen(ctx context.Context) error {
	return s.call(ctx, func() error {
		if s.local.Deafened {
			s.local.Deafened = false
			s.local.Muted = s.wasMuted || s.local.ForcedMuted
		} else {
			s.wasMuted = s.local.Muted
			s.local.Deafened = true
			s.local.Muted = true
		}
		s.applyMute()
		return nil
	})
}

func (s *Session) ToggleCamera(ctx context.Context) error {
	return s.toggleVideo(ctx, core.SourceCamera)
}

func (s *Session) ToggleScreen(ctx context.Context) error {
	return s.toggleVideo(ctx, core.SourceScreen)
}

// toggleVideo turns kind off when active, otherwise acquires it off-loop and
// swaps it into the video slot. A later toggle supersedes a pending acquisition.
func (s *Session) toggleVideo(ctx context.Context, kind core.SourceKind) error {
	var epoch, gen uint64
	acquire := false
	err := s.call(ctx, func() error {
		if s.status != StatusConnected {
			return ErrNotConnected
		}
		if s.video.kind == kind {
			// a pending acquisition of the other kind stays in flight
			s.deactivate()
			return nil
		}
		if s.pending == kind {
			s.acquireGen++
			s.pending = core.SourceNone
			return nil
		}
		if s.deps.Capture == nil || !s.deps.Capture.Supports(kind) {
			return fmt.Errorf("%s: %w", kind, ErrUnsupported)
		}
		s.acquireGen++
		gen, epoch = s.acquireGen, s.epoch
		s.pending = kind
		acquire = true
		return nil
	})
	if err != nil || !acquire {
		return err
	}

	stream, err := s.deps.Capture.Open(ctx, kind)
	if err != nil {
		_ = s.call(context.WithoutCancel(ctx), func() error {
			if s.acquireGen == gen {
				s.pending = core.SourceNone
			}
			return nil
		})
		return fmt.Errorf("%s: %w: %w", kind, ErrDeviceUnavailable, err)
	}

	err = s.call(context.WithoutCancel(ctx), func() error {
		if s.epoch != epoch || s.acquireGen != gen {
			s.logger.Debug().Str("kind", string(kind)).Msg("capture superseded")
			_ = stream.Close()
			return nil
		}
		s.pending = core.SourceNone
		s.activate(kind, stream)
		return nil
	})
	if err != nil {
		_ = stream.Close()
	}
	return err
}

// activate makes stream the single outgoing video source. The previous
// source is released first; existing senders switch tracks in place.
func (s *Session) activate(kind core.SourceKind, stream core.CaptureStream) {
	old := s.video.stream
	s.video = videoSlot{kind: kind, stream: stream}
	if old != nil {
		_ = old.Close()
	}

	track := stream.Track()
	for _, l := range s.links {
		if l.video != nil {
			err := l.video.ReplaceTrack(track)
			if err == nil {
				continue
			}
			s.logger.Warn().Err(err).Str("peer", string(l.id)).Msg("replace video track")
			_ = l.conn.RemoveTrack(l.video)
			l.video = nil
		}
		sender, err := l.conn.AddTrack(track)
		if err != nil {
			s.logger.Warn().Err(err).Str("peer", string(l.id)).Msg("attach video")
			continue
		}
		l.video = sender
		s.renegotiate(l)
	}

	go s.watchSource(s.runCtx, stream)
	s.trackPresence()
	s.logger.Info().Str("kind", string(kind)).Msg("video source active")
}

// deactivate detaches the video source from every link and frees the device.
func (s *Session) deactivate() {
	if s.video.stream == nil {
		return
	}
	kind := s.video.kind
	s.releaseVideo()
	s.trackPresence()
	s.logger.Info().Str("kind", string(kind)).Msg("video source stopped")
}

func (s *Session) releaseVideo() {
	if s.video.stream == nil {
		return
	}
	for _, l := range s.links {
		if l.video == nil {
			continue
		}
		if err := l.conn.RemoveTrack(l.video); err != nil {
			s.logger.Warn().Err(err).Str("peer", string(l.id)).Msg("detach video")
		}
		l.video = nil
		s.renegotiate(l)
	}
	stream := s.video.stream
	s.video = videoSlot{}
	_ = stream.Close()
}

// watchSource runs the regular deactivate path when a source ends on its own,
// e.g. a screen share stopped from the OS.
func (s *Session) watchSource(ctx context.Context, stream core.CaptureStream) {
	select {
	case <-stream.Done():
		s.post(func() {
			if s.video.stream == stream {
				s.logger.Info().Str("kind", string(stream.Kind())).Msg("video source ended")
				s.deactivate()
			}
		})
	case <-ctx.Done():
	}
}
