package orch

import (
	"context"
	"encoding/json"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Orchestrator is the relay: topics with presence plus broadcast fan-out.
// Transports hand it raw frames; it never reads from a connection itself.
type Orchestrator struct {
	Registry *app.Registry
	Topics   core.TopicManager
	Policy   app.Policy
}

func New() *Orchestrator {
	return &Orchestrator{
		Registry: app.NewRegistry(),
		Topics:   app.NewTopicManager(),
		Policy:   app.SimplePolicy{},
	}
}

// Attach registers a transport connection. The returned context is canceled
// when the relay wants the connection gone (kick, backpressure).
func (o *Orchestrator) Attach(ctx context.Context, conn core.SignalConnection) (core.SessionID, context.Context) {
	sid := core.SessionID(uuid.NewString())
	ctx, cancel := context.WithCancel(ctx)
	o.Registry.Bind(sid, conn, cancel)
	return sid, ctx
}

func (o *Orchestrator) OnFrame(sid core.SessionID, data core.Frame) {
	var f domain.RelayFrame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("bad frame")
		o.replyError(sid, "bad_json")
		return
	}

	switch f.Type {
	case domain.FrameJoin:
		if f.Topic == "" || f.Key == "" {
			o.replyError(sid, "join requires topic and key")
			return
		}
		var meta domain.Presence
		if f.Meta != nil {
			meta = *f.Meta
		}
		o.Join(sid, f.Topic, f.Key, meta)
	case domain.FrameTrack:
		if f.Meta == nil {
			o.replyError(sid, "track requires meta")
			return
		}
		o.Track(sid, f.Topic, *f.Meta)
	case domain.FrameLeave:
		o.Leave(sid, f.Topic)
	case domain.FrameBroadcast:
		o.Broadcast(sid, f.Topic, f.Event, f.Payload)
	case domain.FramePing:
		o.send(sid, domain.RelayFrame{Type: domain.FramePong})
	default:
		log.Warn().Str("module", "orch").Str("type", f.Type).Msg("unknown frame")
		o.replyError(sid, "unknown_type")
	}
}

func (o *Orchestrator) send(sid core.SessionID, f domain.RelayFrame) {
	conn, ok := o.Registry.Conn(sid)
	if !ok {
		return
	}
	b, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("marshal frame")
		return
	}
	if err := conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("send dropped")
	}
}

func (o *Orchestrator) replyError(sid core.SessionID, msg string) {
	o.send(sid, domain.RelayFrame{Type: domain.FrameError, Error: msg})
}
