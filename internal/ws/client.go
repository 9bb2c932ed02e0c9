package ws

import (
	"context"
	"time"

	"coderoom/internal/services/collab"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be < pongWait
	maxMessageSize = 1024 * 1024
	sendQueue      = 512
)

// clientConn is one socket. Only writePump writes to rawConn; everybody else
// goes through send, which the Hub owns and closes.
type clientConn struct {
	id      string
	rawConn *websocket.Conn
	send    chan []byte
	session collab.Session
}

func newClientConn(id string, raw *websocket.Conn) *clientConn {
	return &clientConn{
		id:      id,
		rawConn: raw,
		send:    make(chan []byte, sendQueue),
		session: collab.Session{ConnID: id},
	}
}

func (c *clientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.rawConn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.rawConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.rawConn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.rawConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump dispatches frames in order until the socket fails. Handlers for
// one connection never run concurrently, so the session needs no lock.
func (c *clientConn) readPump(s *WsServer) {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		s.engine.Leave(ctx, &c.session)
		cancel()
		s.hub.unregister(c)
		_ = c.rawConn.Close()
	}()

	c.rawConn.SetReadLimit(maxMessageSize)
	_ = c.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	c.rawConn.SetPongHandler(func(string) error {
		return c.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	cc := &ConnContext{ConnID: c.id, Session: &c.session}
	for {
		var env Envelope
		if err := c.rawConn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Debug("ws.read", zap.String("conn", c.id), zap.Error(err))
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		errEvent, err := s.router.dispatch(ctx, cc, env)
		cancel()
		if err == nil || collab.IsSilent(err) {
			continue
		}
		s.hub.ToConn(c.id, errEvent, ErrorBody{Error: clientMessage(err)})
	}
}
