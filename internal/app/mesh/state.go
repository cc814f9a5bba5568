package mesh

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	}
	return "unknown"
}

// LocalState is the user's own toggle state. Continuations read it from the
// session at resume time, never from a captured copy.
type LocalState struct {
	Muted       bool
	Deafened    bool
	ForcedMuted bool
	Speaking    bool
}

type RosterEntry struct {
	ID          domain.ParticipantID
	DisplayName string
	Muted       bool
	Deafened    bool
	ForcedMuted bool
	CameraOn    bool
	ScreenOn    bool
	Speaking    bool
	// VideoVisible is set when video is advertised and actually flowing.
	VideoVisible bool
	// Linked is set for remote participants backed by a peer link.
	Linked bool
	Self   bool
}

type Latency struct {
	Valid bool
	RTT   time.Duration
}

// State is an immutable snapshot of the session for UI consumers.
type State struct {
	Status  Status
	Channel domain.ChannelID
	Self    domain.ParticipantID
	Local   LocalState
	Video   core.SourceKind
	Roster  []RosterEntry
	Latency Latency
}

func (s State) Entry(id domain.ParticipantID) (RosterEntry, bool) {
	for _, e := range s.Roster {
		if e.ID == id {
			return e, true
		}
	}
	return RosterEntry{}, false
}

func (s State) equal(o State) bool {
	return s.Status == o.Status &&
		s.Channel == o.Channel &&
		s.Self == o.Self &&
		s.Local == o.Local &&
		s.Video == o.Video &&
		s.Latency == o.Latency &&
		slices.Equal(s.Roster, o.Roster)
}

// snapshot builds the observable state. Loop only.
func (s *Session) snapshot() State {
	st := State{
		Status:  s.status,
		Channel: s.channel,
		Self:    s.self.ID,
		Local:   s.local,
		Video:   s.video.kind,
		Latency: s.latency,
	}
	if s.status == StatusIdle {
		return st
	}
	now := time.Now()
	for id, p := range s.presence {
		e := RosterEntry{
			ID:          id,
			DisplayName: p.DisplayName,
			Muted:       p.Muted,
			Deafened:    p.Deafened,
			ForcedMuted: p.ForcedMuted,
			CameraOn:    p.CameraOn,
			ScreenOn:    p.ScreenOn,
		}
		if id == s.self.ID {
			e.Self = true
			e.Speaking = s.local.Speaking && !s.local.Muted
			e.VideoVisible = s.video.stream != nil
		} else if l := s.links[id]; l != nil {
			e.Linked = true
			e.Speaking = l.speaking
			e.VideoVisible = p.VideoAdvertised() && l.videoLive(now, s.cfg.VideoStaleAfter)
		}
		st.Roster = append(st.Roster, e)
	}
	slices.SortFunc(st.Roster, func(a, b RosterEntry) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return st
}

// publish pushes the snapshot to observers when it changed. Loop only.
func (s *Session) publish() {
	st := s.snapshot()

	videos := make(map[domain.ParticipantID]core.RemoteTrack)
	for _, e := range st.Roster {
		if e.VideoVisible && !e.Self {
			videos[e.ID] = s.links[e.ID].inVideo
		}
	}
	var preview webrtc.TrackLocal
	if s.video.stream != nil {
		preview = s.video.stream.Track()
	}

	s.obs.Lock()
	defer s.obs.Unlock()
	s.videos = videos
	s.preview = preview
	if st.equal(s.current) {
		return
	}
	s.current = st
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

func (s *Session) State() State {
	s.obs.Lock()
	defer s.obs.Unlock()
	return s.current
}

// Watch delivers the latest state, starting with the current one. Slow
// readers skip intermediate states. The channel closes with ctx or the session.
func (s *Session) Watch(ctx context.Context) <-chan State {
	ch := make(chan State, 1)

	s.obs.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = ch
	ch <- s.current
	s.obs.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.quit:
		}
		s.obs.Lock()
		delete(s.watchers, id)
		close(ch)
		s.obs.Unlock()
	}()
	return ch
}

// RemoteVideo returns the inbound video track of a participant whose video
// is currently visible.
func (s *Session) RemoteVideo(id domain.ParticipantID) (core.RemoteTrack, bool) {
	s.obs.Lock()
	defer s.obs.Unlock()
	t, ok := s.videos[id]
	return t, ok
}

// LocalPreview is the outgoing video track, nil when no source is active.
func (s *Session) LocalPreview() webrtc.TrackLocal {
	s.obs.Lock()
	defer s.obs.Unlock()
	return s.preview
}

// VisibleVideo lists participants whose inbound video is shown.
func (s *Session) VisibleVideo() []domain.ParticipantID {
	s.obs.Lock()
	defer s.obs.Unlock()
	return slices.Sorted(maps.Keys(s.videos))
}
