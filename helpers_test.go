package mediarpc

import (
	"context"
	"io"
	"sync"
)

// fakeConn records written frames and serves queued inbound frames.
type fakeConn struct {
	mu       sync.Mutex
	sent     [][]byte
	writeErr error
	closed   int

	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.frames:
		return b, nil
	case <-c.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeErr != nil {
		return c.writeErr
	}
	c.sent = append(c.sent, append([]byte(nil), message...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()

	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.sent))
	for i, b := range c.sent {
		out[i] = string(b)
	}
	return out
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func pendingCount(client *Client) int {
	client.mu.Lock()
	defer client.mu.Unlock()

	return len(client.pending)
}

// newPipePair returns two stream connections wired to each other.
func newPipePair() (Conn, Conn) {
	aR, bW := io.Pipe()
	bR, aW := io.Pipe()
	return NewStreamConn(aR, aW), NewStreamConn(bR, bW)
}
