package relayclient

import (
	"context"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	sendQueue    = 256
	writeTimeout = 5 * time.Second
)

// Dial connects to a relay server's websocket endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c := newClient()
	send := make(chan core.Frame, sendQueue)
	c.out = func(f core.Frame) error {
		select {
		case <-c.done:
			return ErrClosed
		case send <- f:
			return nil
		default:
			return ErrBackpressure
		}
	}
	c.onClose = func() { _ = ws.Close() }

	go writePump(c, ws, send)
	go readPump(c, ws)
	log.Info().Str("module", "relayclient").Str("url", url).Msg("connected to relay")
	return c, nil
}

func writePump(c *Client, ws *websocket.Conn, send <-chan core.Frame) {
	defer c.Close()
	for {
		select {
		case <-c.done:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case f := <-send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, f); err != nil {
				log.Warn().Err(err).Str("module", "relayclient").Msg("write error")
				return
			}
		}
	}
}

func readPump(c *Client, ws *websocket.Conn) {
	defer c.Close()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Warn().Err(err).Str("module", "relayclient").Msg("relay connection lost")
			}
			return
		}
		c.dispatch(data)
	}
}
