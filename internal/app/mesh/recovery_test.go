package mesh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pairStats(id string, rtt float64, nominated bool, state webrtc.StatsICECandidatePairState) webrtc.ICECandidatePairStats {
	return webrtc.ICECandidatePairStats{
		ID:                   id,
		Type:                 webrtc.StatsTypeCandidatePair,
		Nominated:            nominated,
		State:                state,
		CurrentRoundTripTime: rtt,
	}
}

func TestRoundTripPicksNominatedSucceededPair(t *testing.T) {
	report := webrtc.StatsReport{
		"pair-a": pairStats("pair-a", 0.5, false, webrtc.StatsICECandidatePairStateSucceeded),
		"pair-b": pairStats("pair-b", 0.7, true, webrtc.StatsICECandidatePairStateInProgress),
		"pair-c": pairStats("pair-c", 0.042, true, webrtc.StatsICECandidatePairStateSucceeded),
		"pc":     webrtc.PeerConnectionStats{ID: "pc", Type: webrtc.StatsTypePeerConnection},
	}
	rtt, ok := RoundTrip(report)
	require.True(t, ok)
	assert.Equal(t, 42*time.Millisecond, rtt)

	_, ok = RoundTrip(webrtc.StatsReport{"pc": webrtc.PeerConnectionStats{}})
	assert.False(t, ok)
}

// statsConn only answers Stats; anything else panics through the nil interface.
type statsConn struct {
	core.PeerConn
	report webrtc.StatsReport
	err    error
	boom   bool
}

func (c *statsConn) Stats() (webrtc.StatsReport, error) {
	if c.boom {
		panic("stats exploded")
	}
	return c.report, c.err
}

func TestSampleLatencyAveragesAndSkipsFailures(t *testing.T) {
	ok := func(rtt float64) *statsConn {
		return &statsConn{report: webrtc.StatsReport{
			"p": pairStats("p", rtt, true, webrtc.StatsICECandidatePairStateSucceeded),
		}}
	}
	lat := SampleLatency([]core.PeerConn{
		ok(0.040),
		ok(0.060),
		&statsConn{err: errors.New("closed")},
		&statsConn{boom: true},
		&statsConn{report: webrtc.StatsReport{}},
	})
	require.True(t, lat.Valid)
	assert.Equal(t, 50*time.Millisecond, lat.RTT)

	assert.Equal(t, Latency{}, SampleLatency(nil))
	assert.False(t, SampleLatency([]core.PeerConn{&statsConn{err: errors.New("x")}}).Valid)
}

func TestLatencyPublished(t *testing.T) {
	cfg := testConfig()
	cfg.LatencyInterval = 10 * time.Millisecond
	h, a, _ := connectedPair(t, cfg)

	conn := h.net.conn("a1", "b2")
	conn.net.mu.Lock()
	conn.stats = webrtc.StatsReport{"p": pairStats("p", 0.025, true, webrtc.StatsICECandidatePairStateSucceeded)}
	conn.net.mu.Unlock()

	a.eventually(t, func(st State) bool {
		return st.Latency.Valid && st.Latency.RTT == 25*time.Millisecond
	}, "latency published")
}

func TestTeardownCompleteness(t *testing.T) {
	ctx := context.Background()
	h, a, b := connectedPair(t, testConfig())

	require.NoError(t, b.ToggleCamera(ctx))
	a.eventually(t, func(st State) bool {
		e, ok := st.Entry("b2")
		return ok && e.VideoVisible
	}, "video visible")

	var audio *fakeTrack
	require.Eventually(t, func() bool {
		audio = h.net.conn("a1", "b2").inboundOf(webrtc.RTPCodecTypeAudio)
		return audio != nil
	}, time.Second, 5*time.Millisecond)
	audio.loud(10)
	a.eventually(t, func(st State) bool {
		e, ok := st.Entry("b2")
		return ok && e.Speaking
	}, "b speaking")

	h.net.conn("a1", "b2").fail()
	a.eventually(t, func(st State) bool {
		e, ok := st.Entry("b2")
		return ok && !e.Linked && !e.Speaking && !e.VideoVisible
	}, "link torn down")

	require.NoError(t, a.call(ctx, func() error {
		_, ok := a.links["b2"]
		assert.False(t, ok)
		return nil
	}))
	_, ok := a.RemoteVideo("b2")
	assert.False(t, ok)
	assert.Empty(t, a.VisibleVideo())
	assert.True(t, audio.ended(), "audio analysis input released")
	assert.True(t, h.net.conn("a1", "b2").isClosed())
}

func TestRecoveryRecreatesFailedLink(t *testing.T) {
	cfg := testConfig()
	cfg.RecoveryInterval = 20 * time.Millisecond
	h, a, _ := connectedPair(t, cfg)

	h.net.conn("a1", "b2").fail()
	require.Eventually(t, func() bool { return h.net.createdCount("a1", "b2") == 2 }, 2*time.Second, 5*time.Millisecond)
	a.eventually(t, linkedTo("b2"), "link back")
}

func TestRecoveryRenegotiatesStalledVideo(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.RecoveryInterval = 10 * time.Millisecond
	cfg.VideoStaleAfter = 40 * time.Millisecond
	cfg.RecoveryCooldown = time.Hour
	h, a, b := connectedPair(t, cfg)

	require.NoError(t, b.ToggleCamera(ctx))
	a.eventually(t, func(st State) bool {
		e, ok := st.Entry("b2")
		return ok && e.CameraOn
	}, "camera advertised")
	conn := h.net.conn("a1", "b2")
	require.Eventually(t, func() bool { return conn.inboundOf(webrtc.RTPCodecTypeVideo) != nil }, time.Second, 5*time.Millisecond)
	before := conn.offerCount()

	// no packets ever arrive: the video goes stale and one recovery offer follows
	require.Eventually(t, func() bool { return conn.offerCount() == before+1 }, 2*time.Second, 5*time.Millisecond)
	e, _ := a.State().Entry("b2")
	assert.False(t, e.VideoVisible)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, before+1, conn.offerCount(), "cooldown holds further attempts")
}
