// Package speaking classifies audio as active speech from short-term energy.
package speaking

import (
	"math"
)

type Config struct {
	// Window is the number of samples in the rolling RMS window.
	Window int
	// Smoothing is the one-pole filter coefficient in [0, 1).
	Smoothing float64
	// Threshold is the filtered RMS above which the stream counts as speaking.
	Threshold float64
}

func DefaultConfig() Config {
	return Config{Window: 25, Smoothing: 0.8, Threshold: 0.015}
}

// Detector is not safe for concurrent use; one goroutine feeds it.
type Detector struct {
	cfg      Config
	ring     []float64
	next     int
	filled   int
	sumSq    float64
	smoothed float64
	speaking bool
}

func NewDetector(cfg Config) *Detector {
	if cfg.Window < 1 {
		cfg.Window = 1
	}
	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		cfg.Smoothing = 0
	}
	return &Detector{cfg: cfg, ring: make([]float64, cfg.Window)}
}

// Push feeds samples and reports the current state and whether it flipped.
func (d *Detector) Push(samples ...float64) (speaking, changed bool) {
	if len(samples) == 0 {
		return d.speaking, false
	}
	for _, s := range samples {
		old := d.ring[d.next]
		d.ring[d.next] = s
		d.next = (d.next + 1) % len(d.ring)
		if d.filled < len(d.ring) {
			d.filled++
		}
		d.sumSq += s*s - old*old
	}
	if d.sumSq < 0 {
		// float drift
		d.sumSq = 0
	}
	rms := math.Sqrt(d.sumSq / float64(d.filled))
	d.smoothed = d.cfg.Smoothing*d.smoothed + (1-d.cfg.Smoothing)*rms

	now := d.smoothed > d.cfg.Threshold
	if now == d.speaking {
		return now, false
	}
	d.speaking = now
	return now, true
}

func (d *Detector) Speaking() bool { return d.speaking }

func (d *Detector) Level() float64 { return d.smoothed }

// LevelToAmplitude converts an RFC 6464 audio level (0 loudest, 127 silence,
// in -dBov) to a linear amplitude in [0, 1].
func LevelToAmplitude(level uint8) float64 {
	if level >= 127 {
		return 0
	}
	return math.Pow(10, -float64(level)/20)
}
