package signal

import (
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

func (ctl *SignalWSController) writePing(c *WsSignalConn) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// armPongHandler extends the read deadline on every pong; a peer that stops
// answering pings is dropped after two periods.
func (ctl *SignalWSController) armPongHandler(c *WsSignalConn) {
	if ctl.Limits.PingPeriod <= 0 {
		return
	}
	wait := 2 * ctl.Limits.PingPeriod
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})
}

func newFrameLimiter(l Limits) *rate.Limiter {
	if l.PerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := l.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(l.PerSecond), burst)
}
