package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// FileSink records inbound media per participant: opus to .ogg, VP8 to .ivf.
type FileSink struct {
	Dir string
}

func (s FileSink) Open(from domain.ParticipantID, track core.RemoteTrack) (core.PacketWriter, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, err
	}
	base := fmt.Sprintf("%s-%s-%d", sanitize(string(from)), track.Kind(), time.Now().Unix())
	mime := strings.ToLower(track.Codec().MimeType)

	switch mime {
	case strings.ToLower(webrtc.MimeTypeOpus):
		w, err := oggwriter.New(filepath.Join(s.Dir, base+".ogg"), 48000, 2)
		if err != nil {
			return nil, err
		}
		return w, nil
	case strings.ToLower(webrtc.MimeTypeVP8):
		w, err := ivfwriter.New(filepath.Join(s.Dir, base+".ivf"))
		if err != nil {
			return nil, err
		}
		return w, nil
	}
	return nil, fmt.Errorf("%w: no recorder for %s", ErrUnsupported, track.Codec().MimeType)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' {
			return '_'
		}
		return r
	}, s)
}
