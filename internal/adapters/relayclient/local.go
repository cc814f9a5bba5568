package relayclient

import (
	"context"
	"sync/atomic"

	"github.com/dkeye/voicemesh/internal/app/orch"
	"github.com/dkeye/voicemesh/internal/core"
)

const localQueue = 1024

// NewLocal attaches a client to an in-process relay. Outbound frames are
// handled synchronously; inbound frames are delivered from a goroutine.
func NewLocal(o *orch.Orchestrator) *Client {
	c := newClient()
	p := &pipeConn{in: make(chan core.Frame, localQueue)}
	sid, kicked := o.Attach(context.Background(), p)

	c.out = func(f core.Frame) error {
		o.OnFrame(sid, f)
		return nil
	}
	c.onClose = func() {
		p.Close()
		o.Disconnect(sid)
	}

	go func() {
		for {
			select {
			case f := <-p.in:
				c.dispatch(f)
			case <-kicked.Done():
				c.Close()
				return
			case <-c.done:
				return
			}
		}
	}()
	return c
}

type pipeConn struct {
	in     chan core.Frame
	closed atomic.Bool
}

func (p *pipeConn) TrySend(f core.Frame) error {
	if p.closed.Load() {
		return ErrClosed
	}
	select {
	case p.in <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

func (p *pipeConn) Close() { p.closed.Store(true) }
