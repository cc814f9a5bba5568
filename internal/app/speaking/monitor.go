package speaking

import (
	"context"
	"errors"
	"io"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

// Monitor reads a remote audio track until ctx is done or the track ends,
// reporting speaking transitions. Every packet is also handed to out, when set.
// A track without audio-level extensions never reports a transition.
func Monitor(ctx context.Context, cfg Config, track core.RemoteTrack, out func(*rtp.Packet), onChange func(bool)) {
	det := NewDetector(cfg)
	extID := track.AudioLevelExtensionID()
	logger := log.With().Str("module", "speaking").Str("track_id", track.ID()).Logger()

	defer func() {
		if det.Speaking() {
			onChange(false)
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug().Err(err).Msg("audio track read stopped")
			}
			return
		}
		if out != nil {
			out(pkt)
		}
		amp, ok := PacketAmplitude(pkt, extID)
		if !ok {
			continue
		}
		if speaking, changed := det.Push(amp); changed {
			onChange(speaking)
		}
	}
}

// PacketAmplitude extracts the audio level carried in pkt's header extension.
func PacketAmplitude(pkt *rtp.Packet, extID uint8) (float64, bool) {
	if extID == 0 || pkt == nil {
		return 0, false
	}
	raw := pkt.GetExtension(extID)
	if raw == nil {
		return 0, false
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(raw); err != nil {
		return 0, false
	}
	return LevelToAmplitude(ext.Level), true
}
