package domain

// Presence is the payload each participant tracks on the channel topic.
// Only the latest snapshot matters.
type Presence struct {
	DisplayName string `json:"display_name"`
	Muted       bool   `json:"muted"`
	Deafened    bool   `json:"deafened"`
	ForcedMuted bool   `json:"forced_muted"`
	CameraOn    bool   `json:"camera_on"`
	ScreenOn    bool   `json:"screen_on"`
}

// VideoAdvertised reports whether the participant claims an outgoing video source.
func (p Presence) VideoAdvertised() bool {
	return p.CameraOn || p.ScreenOn
}
