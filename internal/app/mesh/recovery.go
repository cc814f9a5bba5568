package mesh

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

func (s *Session) every(ctx context.Context, d time.Duration, fn func()) {
	if d <= 0 {
		return
	}
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.post(fn)
		}
	}
}

// recoveryTick re-runs reconciliation, then renegotiates links whose peer
// advertises video that has not been flowing for a while, at most once per
// cooldown per link.
func (s *Session) recoveryTick() {
	if s.status != StatusConnected {
		return
	}
	s.reconcile()

	now := time.Now()
	for id, l := range s.links {
		p, ok := s.presence[id]
		if !ok || !p.VideoAdvertised() || l.videoLive(now, s.cfg.VideoStaleAfter) {
			l.missingSince = time.Time{}
			continue
		}
		if l.missingSince.IsZero() {
			l.missingSince = now
			continue
		}
		if now.Sub(l.missingSince) < s.cfg.VideoStaleAfter {
			continue
		}
		if !l.lastRecovery.IsZero() && now.Sub(l.lastRecovery) < s.cfg.RecoveryCooldown {
			continue
		}
		l.lastRecovery = now
		s.logger.Info().Str("peer", string(id)).Msg("advertised video not flowing, renegotiating")
		s.renegotiate(l)
	}
}

func (s *Session) latencyLoop(ctx context.Context, epoch uint64) {
	if s.cfg.LatencyInterval <= 0 {
		return
	}
	t := time.NewTicker(s.cfg.LatencyInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		var conns []core.PeerConn
		err := s.call(ctx, func() error {
			if s.epoch == epoch {
				for _, l := range s.links {
					conns = append(conns, l.conn)
				}
			}
			return nil
		})
		if err != nil {
			return
		}
		lat := SampleLatency(conns)
		s.post(func() {
			if s.epoch == epoch {
				s.latency = lat
			}
		})
	}
}

// SampleLatency polls every connection's stats concurrently and averages
// the round trips that could be read. Failing links are skipped.
func SampleLatency(conns []core.PeerConn) Latency {
	var (
		mu  sync.Mutex
		sum time.Duration
		n   int
		wg  conc.WaitGroup
	)
	for _, c := range conns {
		wg.Go(func() {
			report, err := c.Stats()
			if err != nil {
				return
			}
			rtt, ok := RoundTrip(report)
			if !ok {
				return
			}
			mu.Lock()
			sum += rtt
			n++
			mu.Unlock()
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		log.Warn().Err(r.AsError()).Str("module", "mesh").Msg("stats poll panicked")
	}
	if n == 0 {
		return Latency{}
	}
	return Latency{Valid: true, RTT: sum / time.Duration(n)}
}

// RoundTrip reads the current round trip of the nominated, succeeded
// candidate pair. Every other stats entry is ignored.
func RoundTrip(report webrtc.StatsReport) (time.Duration, bool) {
	for _, st := range report {
		var pair webrtc.ICECandidatePairStats
		switch v := st.(type) {
		case webrtc.ICECandidatePairStats:
			pair = v
		case *webrtc.ICECandidatePairStats:
			if v == nil {
				continue
			}
			pair = *v
		default:
			continue
		}
		if !pair.Nominated || pair.State != webrtc.StatsICECandidatePairStateSucceeded {
			continue
		}
		if pair.CurrentRoundTripTime <= 0 {
			continue
		}
		return time.Duration(math.Round(pair.CurrentRoundTripTime*1e6)) * time.Microsecond, true
	}
	return 0, false
}
