package mesh

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/voicemesh/internal/adapters/relayclient"
	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/app/orch"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

var (
	errGlare   = errors.New("fake: offer while local offer pending")
	errNoOffer = errors.New("fake: answer without local offer")
	errClosed  = errors.New("fake: connection closed")
)

type linkKey struct{ owner, remote domain.ParticipantID }

// fakeNet connects fakeConns pairwise: a conn's peer is the latest conn the
// remote participant created back to its owner.
type fakeNet struct {
	mu      sync.Mutex
	conns   map[linkKey]*fakeConn
	created map[linkKey]int
}

func newFakeNet() *fakeNet {
	return &fakeNet{conns: make(map[linkKey]*fakeConn), created: make(map[linkKey]int)}
}

func (n *fakeNet) factory(owner domain.ParticipantID) core.ConnFactory {
	return &fakeFactory{net: n, owner: owner}
}

func (n *fakeNet) conn(owner, remote domain.ParticipantID) *fakeConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conns[linkKey{owner, remote}]
}

func (n *fakeNet) createdCount(owner, remote domain.ParticipantID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.created[linkKey{owner, remote}]
}

type fakeFactory struct {
	net   *fakeNet
	owner domain.ParticipantID
}

func (f *fakeFactory) NewConn(remote domain.ParticipantID) (core.PeerConn, error) {
	c := &fakeConn{net: f.net, owner: f.owner, remote: remote}
	k := linkKey{f.owner, remote}
	f.net.mu.Lock()
	f.net.conns[k] = c
	f.net.created[k]++
	f.net.mu.Unlock()
	return c, nil
}

type fakeSender struct {
	conn  *fakeConn
	kind  webrtc.RTPCodecType
	track webrtc.TrackLocal
	// remote is the copy delivered to the peer, once negotiated.
	remote *fakeTrack
}

func (s *fakeSender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.conn.net.mu.Lock()
	defer s.conn.net.mu.Unlock()
	s.track = t
	return nil
}

func (s *fakeSender) current() webrtc.TrackLocal {
	s.conn.net.mu.Lock()
	defer s.conn.net.mu.Unlock()
	return s.track
}

// fakeConn is guarded by its net's mutex. Callbacks run on fresh goroutines
// like pion's do.
type fakeConn struct {
	net           *fakeNet
	owner, remote domain.ParticipantID

	localOffer bool
	senders    []*fakeSender
	inbound    []*fakeTrack
	closed     bool
	connected  bool
	offers     int
	answers    int
	stats      webrtc.StatsReport
	statsErr   error

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(core.RemoteTrack)
	onState func(core.ConnState)
}

func (c *fakeConn) peerLocked() *fakeConn {
	p := c.net.conns[linkKey{c.remote, c.owner}]
	if p == nil || p.closed {
		return nil
	}
	return p
}

func (c *fakeConn) kindsLocked() []string {
	var kinds []string
	for _, s := range c.senders {
		kinds = append(kinds, s.kind.String())
	}
	return kinds
}

// deliverLocked hands from's not yet delivered senders to to as inbound tracks.
func deliverLocked(from, to *fakeConn) []func() {
	if from == nil || to == nil || to.closed {
		return nil
	}
	var fns []func()
	for _, s := range from.senders {
		if s.remote != nil {
			continue
		}
		t := newFakeTrack(s.kind, from.owner)
		s.remote = t
		to.inbound = append(to.inbound, t)
		if fn := to.onTrack; fn != nil {
			fns = append(fns, func() { fn(t) })
		}
	}
	return fns
}

func runAsync(fns []func()) {
	for _, fn := range fns {
		go fn()
	}
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if c.closed {
		return webrtc.SessionDescription{}, errClosed
	}
	c.localOffer = true
	c.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fakeSDP(c.kindsLocked()...)}, nil
}

func (c *fakeConn) ApplyOffer(offer webrtc.SessionDescription, rollback bool) (webrtc.SessionDescription, error) {
	c.net.mu.Lock()
	if c.closed {
		c.net.mu.Unlock()
		return webrtc.SessionDescription{}, errClosed
	}
	if c.localOffer && !rollback {
		c.net.mu.Unlock()
		return webrtc.SessionDescription{}, errGlare
	}
	c.localOffer = false
	c.answers++
	fns := deliverLocked(c.peerLocked(), c)
	sd := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fakeSDP(c.kindsLocked()...)}
	c.net.mu.Unlock()
	runAsync(fns)
	return sd, nil
}

func (c *fakeConn) ApplyAnswer(webrtc.SessionDescription) error {
	c.net.mu.Lock()
	if !c.localOffer {
		c.net.mu.Unlock()
		return errNoOffer
	}
	c.localOffer = false
	peer := c.peerLocked()
	fns := deliverLocked(peer, c)
	fns = append(fns, deliverLocked(c, peer)...)
	if !c.connected {
		c.connected = true
		if fn := c.onState; fn != nil {
			fns = append(fns, func() { fn(core.ConnConnected) })
		}
	}
	c.net.mu.Unlock()
	runAsync(fns)
	return nil
}

func (c *fakeConn) AddICECandidate(webrtc.ICECandidateInit) error { return nil }

func (c *fakeConn) AddTrack(track webrtc.TrackLocal) (core.Sender, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}
	s := &fakeSender{conn: c, kind: track.Kind(), track: track}
	c.senders = append(c.senders, s)
	return s, nil
}

func (c *fakeConn) RemoveTrack(sender core.Sender) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	for i, s := range c.senders {
		if s == sender {
			c.senders = append(c.senders[:i], c.senders[i+1:]...)
			if s.remote != nil {
				s.remote.end()
			}
			return nil
		}
	}
	return errors.New("fake: unknown sender")
}

func (c *fakeConn) Stable() bool {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return !c.localOffer
}

func (c *fakeConn) Stats() (webrtc.StatsReport, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.stats, c.statsErr
}

func (c *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.net.mu.Lock()
	c.onICE = fn
	c.net.mu.Unlock()
}

func (c *fakeConn) OnTrack(fn func(core.RemoteTrack)) {
	c.net.mu.Lock()
	c.onTrack = fn
	c.net.mu.Unlock()
}

func (c *fakeConn) OnStateChange(fn func(core.ConnState)) {
	c.net.mu.Lock()
	c.onState = fn
	c.net.mu.Unlock()
}

func (c *fakeConn) Close() error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, s := range c.senders {
		if s.remote != nil {
			s.remote.end()
		}
	}
	for _, t := range c.inbound {
		t.end()
	}
	c.onICE, c.onTrack, c.onState = nil, nil, nil
	return nil
}

func (c *fakeConn) fail() {
	c.net.mu.Lock()
	fn := c.onState
	c.net.mu.Unlock()
	if fn != nil {
		go fn(core.ConnFailed)
	}
}

func (c *fakeConn) setLocalOffer(v bool) {
	c.net.mu.Lock()
	c.localOffer = v
	c.net.mu.Unlock()
}

func (c *fakeConn) offerCount() int {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.offers
}

func (c *fakeConn) isClosed() bool {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sendersOf(kind webrtc.RTPCodecType) []*fakeSender {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	var out []*fakeSender
	for _, s := range c.senders {
		if s.kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func (c *fakeConn) inboundOf(kind webrtc.RTPCodecType) *fakeTrack {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	for i := len(c.inbound) - 1; i >= 0; i-- {
		if c.inbound[i].kind == kind {
			return c.inbound[i]
		}
	}
	return nil
}

type fakeTrack struct {
	id      string
	kind    webrtc.RTPCodecType
	packets chan *rtp.Packet
	done    chan struct{}
	once    sync.Once
}

func newFakeTrack(kind webrtc.RTPCodecType, owner domain.ParticipantID) *fakeTrack {
	return &fakeTrack{
		id:      string(owner) + "-" + kind.String(),
		kind:    kind,
		packets: make(chan *rtp.Packet, 64),
		done:    make(chan struct{}),
	}
}

func (t *fakeTrack) ID() string                { return t.id }
func (t *fakeTrack) StreamID() string          { return "stream" }
func (t *fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }

func (t *fakeTrack) Codec() webrtc.RTPCodecParameters {
	mime := webrtc.MimeTypeVP8
	if t.kind == webrtc.RTPCodecTypeAudio {
		mime = webrtc.MimeTypeOpus
	}
	return webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: mime}}
}

func (t *fakeTrack) AudioLevelExtensionID() uint8 {
	if t.kind == webrtc.RTPCodecTypeAudio {
		return 1
	}
	return 0
}

func (t *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	select {
	case p := <-t.packets:
		return p, nil, nil
	case <-t.done:
		return nil, nil, io.EOF
	}
}

func (t *fakeTrack) end() { t.once.Do(func() { close(t.done) }) }

func (t *fakeTrack) ended() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// loud pushes packets carrying the loudest audio level.
func (t *fakeTrack) loud(n int) {
	raw, _ := (&rtp.AudioLevelExtension{Level: 0, Voice: true}).Marshal()
	for i := 0; i < n; i++ {
		p := &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: uint16(i)}}
		_ = p.SetExtension(1, raw)
		t.packets <- p
	}
}

func fakeSDP(kinds ...string) string {
	d := sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "127.0.0.1",
		},
		SessionName:      "-",
		TimeDescriptions: []sdp.TimeDescription{{}},
	}
	for _, k := range kinds {
		d.MediaDescriptions = append(d.MediaDescriptions, &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   k,
				Port:    sdp.RangedPort{Value: 9},
				Protos:  []string{"UDP", "TLS", "RTP", "SAVPF"},
				Formats: []string{"96"},
			},
		})
	}
	b, err := d.Marshal()
	if err != nil {
		panic(err)
	}
	return string(b)
}

type fakeStream struct {
	kind   core.SourceKind
	track  *webrtc.TrackLocalStaticRTP
	done   chan struct{}
	once   sync.Once
	closed atomic.Bool
}

func (s *fakeStream) Kind() core.SourceKind    { return s.kind }
func (s *fakeStream) Track() webrtc.TrackLocal { return s.track }
func (s *fakeStream) Done() <-chan struct{}    { return s.done }

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	s.end()
	return nil
}

// end simulates the source stopping on its own.
func (s *fakeStream) end() { s.once.Do(func() { close(s.done) }) }

type fakeCapturer struct {
	mu       sync.Mutex
	supports map[core.SourceKind]bool
	fail     map[core.SourceKind]error
	gate     map[core.SourceKind]chan struct{}
	opened   []*fakeStream
}

func newFakeCapturer() *fakeCapturer {
	return &fakeCapturer{
		supports: map[core.SourceKind]bool{core.SourceAudio: true, core.SourceCamera: true, core.SourceScreen: true},
		fail:     make(map[core.SourceKind]error),
		gate:     make(map[core.SourceKind]chan struct{}),
	}
}

func (c *fakeCapturer) Supports(kind core.SourceKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.supports[kind]
}

func (c *fakeCapturer) Open(ctx context.Context, kind core.SourceKind) (core.CaptureStream, error) {
	c.mu.Lock()
	gate := c.gate[kind]
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail[kind]; err != nil {
		return nil, err
	}
	mime := webrtc.MimeTypeVP8
	if kind == core.SourceAudio {
		mime = webrtc.MimeTypeOpus
	}
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: mime}, string(kind), "local")
	if err != nil {
		return nil, err
	}
	s := &fakeStream{kind: kind, track: track, done: make(chan struct{})}
	c.opened = append(c.opened, s)
	return s, nil
}

func (c *fakeCapturer) streams(kind core.SourceKind) []*fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeStream
	for _, s := range c.opened {
		if s.kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func (c *fakeCapturer) last(kind core.SourceKind) *fakeStream {
	ss := c.streams(kind)
	if len(ss) == 0 {
		return nil
	}
	return ss[len(ss)-1]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RecoveryInterval = 0
	cfg.LatencyInterval = 0
	cfg.VideoStaleAfter = 0
	cfg.RenegotiateBackoff = 10 * time.Millisecond
	cfg.MoveDelay = 20 * time.Millisecond
	return cfg
}

type harness struct {
	t    *testing.T
	orch *orch.Orchestrator
	net  *fakeNet
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, orch: orch.New(), net: newFakeNet()}
}

type member struct {
	*Session
	id  domain.ParticipantID
	cap *fakeCapturer
}

func (h *harness) member(id domain.ParticipantID, cfg Config) *member {
	h.t.Helper()
	ident, err := app.NewStaticIdentity(string(id), "user-"+string(id))
	require.NoError(h.t, err)
	relay := relayclient.NewLocal(h.orch)
	capt := newFakeCapturer()
	s := New(cfg, Deps{
		Relay:     relay,
		Identity:  ident,
		Directory: app.StaticDirectory{},
		Conns:     h.net.factory(id),
		Capture:   capt,
	})
	h.t.Cleanup(func() {
		s.Close()
		relay.Close()
	})
	return &member{Session: s, id: id, cap: capt}
}

func (m *member) eventually(t *testing.T, cond func(State) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(m.State()) }, 3*time.Second, 5*time.Millisecond, msg)
}

// linkCount reads the link map on the loop.
func (m *member) linkCount(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, m.call(context.Background(), func() error {
		n = len(m.links)
		return nil
	}))
	return n
}

func linkedTo(ids ...domain.ParticipantID) func(State) bool {
	return func(st State) bool {
		linked := 0
		for _, e := range st.Roster {
			if e.Linked {
				linked++
			}
		}
		if linked != len(ids) {
			return false
		}
		for _, id := range ids {
			e, ok := st.Entry(id)
			if !ok || !e.Linked {
				return false
			}
		}
		return true
	}
}
