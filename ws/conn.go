// Package ws carries JSON-RPC frames over WebSocket text messages.
package ws

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const defaultReadLimit = 1 << 20

// Conn adapts a WebSocket connection to mediarpc.Conn.
type Conn struct {
	ws *websocket.Conn
	id string

	peerClosed atomic.Bool
	once       sync.Once
	closeErr   error
}

func newConn(c *websocket.Conn, readLimit int64) *Conn {
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	c.SetReadLimit(readLimit)
	return &Conn{
		ws: c,
		id: uuid.NewString(),
	}
}

// ID identifies the connection in logs.
func (c *Conn) ID() string {
	return c.id
}

// Read returns the next message. A normal close by the peer is reported as
// io.EOF.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			c.peerClosed.Store(true)
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (c *Conn) Write(ctx context.Context, message []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, message)
}

// Close performs the closing handshake unless the peer already closed.
func (c *Conn) Close() error {
	c.once.Do(func() {
		if c.peerClosed.Load() {
			_ = c.ws.CloseNow()
			return
		}
		err := c.ws.Close(websocket.StatusNormalClosure, "")
		if err != nil && !errors.Is(err, net.ErrClosed) {
			c.closeErr = err
		}
	})
	return c.closeErr
}
