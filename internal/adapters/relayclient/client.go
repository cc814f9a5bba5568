package relayclient

import (
	"encoding/json"
	"errors"
	"maps"
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed        = errors.New("relay client closed")
	ErrBackpressure  = errors.New("relay send queue full")
	ErrAlreadyJoined = errors.New("topic already joined")
	ErrNotJoined     = errors.New("topic not joined")
)

// Client implements core.Relay over any frame transport. Inbound frames are
// dispatched from a single goroutine, so handlers see events in order.
type Client struct {
	out     func(core.Frame) error
	onClose func()

	mu     sync.Mutex
	topics map[domain.Topic]*channel

	once sync.Once
	done chan struct{}
}

func newClient() *Client {
	return &Client{
		topics: make(map[domain.Topic]*channel),
		done:   make(chan struct{}),
	}
}

// Done is closed once the client is closed or its transport dropped.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.onClose != nil {
			c.onClose()
		}
		log.Info().Str("module", "relayclient").Msg("closed")
	})
}

func (c *Client) Join(topic domain.Topic, key domain.ParticipantID, meta domain.Presence, h core.RelayHandler) (core.RelayChannel, error) {
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	if _, ok := c.topics[topic]; ok {
		c.mu.Unlock()
		return nil, ErrAlreadyJoined
	}
	ch := &channel{
		c:        c,
		topic:    topic,
		key:      key,
		handler:  h,
		presence: make(map[domain.ParticipantID]domain.Presence),
	}
	c.topics[topic] = ch
	c.mu.Unlock()

	if err := c.write(domain.RelayFrame{Type: domain.FrameJoin, Topic: topic, Key: key, Meta: &meta}); err != nil {
		c.drop(ch)
		return nil, err
	}
	return ch, nil
}

func (c *Client) write(f domain.RelayFrame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.out(b)
}

func (c *Client) drop(ch *channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.topics[ch.topic] != ch {
		return false
	}
	delete(c.topics, ch.topic)
	return true
}

func (c *Client) lookup(topic domain.Topic) (*channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.topics[topic]
	return ch, ok
}

// dispatch decodes one inbound frame and feeds the matching topic handler.
// Only the transport's read goroutine calls it.
func (c *Client) dispatch(data []byte) {
	var f domain.RelayFrame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warn().Err(err).Str("module", "relayclient").Msg("bad frame")
		return
	}

	switch f.Type {
	case domain.FramePong:
		return
	case domain.FrameError:
		log.Warn().Str("module", "relayclient").Str("topic", string(f.Topic)).Str("error", f.Error).Msg("relay error")
		return
	}

	ch, ok := c.lookup(f.Topic)
	if !ok {
		log.Debug().Str("module", "relayclient").Str("type", f.Type).Str("topic", string(f.Topic)).Msg("frame for unknown topic")
		return
	}

	switch f.Type {
	case domain.FramePresenceState:
		ch.presence = maps.Clone(f.State)
		if ch.presence == nil {
			ch.presence = make(map[domain.ParticipantID]domain.Presence)
		}
		ch.emit(core.RelayEvent{Kind: core.PresenceSync, Key: ch.key})
	case domain.FramePresenceDiff:
		for key := range f.Leaves {
			if _, ok := ch.presence[key]; !ok {
				continue
			}
			delete(ch.presence, key)
			ch.emit(core.RelayEvent{Kind: core.PresenceLeave, Key: key})
		}
		for key, meta := range f.Joins {
			ch.presence[key] = meta
			ch.emit(core.RelayEvent{Kind: core.PresenceJoin, Key: key})
		}
	case domain.FrameBroadcast:
		ch.emit(core.RelayEvent{Kind: core.BroadcastEvent, Event: f.Event, Payload: f.Payload})
	default:
		log.Warn().Str("module", "relayclient").Str("type", f.Type).Msg("unknown frame")
	}
}

type channel struct {
	c       *Client
	topic   domain.Topic
	key     domain.ParticipantID
	handler core.RelayHandler

	// presence is owned by the dispatch goroutine.
	presence map[domain.ParticipantID]domain.Presence
}

func (ch *channel) emit(ev core.RelayEvent) {
	if ch.handler == nil {
		return
	}
	if ev.Kind != core.BroadcastEvent {
		ev.Presence = maps.Clone(ch.presence)
	}
	ch.handler(ev)
}

func (ch *channel) Track(meta domain.Presence) error {
	if !ch.joined() {
		return ErrNotJoined
	}
	return ch.c.write(domain.RelayFrame{Type: domain.FrameTrack, Topic: ch.topic, Meta: &meta})
}

func (ch *channel) Broadcast(event string, payload any) error {
	if !ch.joined() {
		return ErrNotJoined
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return ch.c.write(domain.RelayFrame{Type: domain.FrameBroadcast, Topic: ch.topic, Event: event, Payload: raw})
}

func (ch *channel) Leave() error {
	if !ch.c.drop(ch) {
		return nil
	}
	return ch.c.write(domain.RelayFrame{Type: domain.FrameLeave, Topic: ch.topic})
}

func (ch *channel) joined() bool {
	cur, ok := ch.c.lookup(ch.topic)
	return ok && cur == ch
}
