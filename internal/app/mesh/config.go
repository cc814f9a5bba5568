package mesh

import (
	"time"

	"github.com/dkeye/voicemesh/internal/app/speaking"
)

type Config struct {
	// RecoveryCooldown is the minimum gap between two video recovery
	// renegotiations on the same link.
	RecoveryCooldown time.Duration
	RecoveryInterval time.Duration
	LatencyInterval  time.Duration
	// RenegotiateRetries bounds how often a deferred offer is retried while
	// the link is mid-negotiation; RenegotiateBackoff grows linearly per try.
	RenegotiateRetries int
	RenegotiateBackoff time.Duration
	// MoveDelay separates leaving the old channel from joining the new one.
	MoveDelay time.Duration
	// VideoStaleAfter marks an inbound video track dead when no packet
	// arrived for that long.
	VideoStaleAfter time.Duration

	Speaking speaking.Config
}

func DefaultConfig() Config {
	return Config{
		RecoveryCooldown:   8 * time.Second,
		RecoveryInterval:   3 * time.Second,
		LatencyInterval:    2 * time.Second,
		RenegotiateRetries: 5,
		RenegotiateBackoff: 150 * time.Millisecond,
		MoveDelay:          300 * time.Millisecond,
		VideoStaleAfter:    3 * time.Second,
		Speaking:           speaking.DefaultConfig(),
	}
}
