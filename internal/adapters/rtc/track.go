package rtc

import (
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

type remoteTrack struct {
	*webrtc.TrackRemote
	levelExt uint8
}

func (t *remoteTrack) AudioLevelExtensionID() uint8 { return t.levelExt }

func audioLevelExtID(receiver *webrtc.RTPReceiver) uint8 {
	if receiver == nil {
		return 0
	}
	for _, ext := range receiver.GetParameters().HeaderExtensions {
		if ext.URI == sdp.AudioLevelURI {
			return uint8(ext.ID)
		}
	}
	return 0
}
