package mediarpc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Client is a JSON-RPC 2.0 endpoint over a Conn. It issues requests and
// notifications and routes inbound messages either to pending calls or to
// its Handler.
type Client struct {
	mu sync.Mutex

	closed    bool
	closeOnce sync.Once
	closeErr  error

	currentID int64 // used to generate unique request IDs

	conn    Conn
	conf    clientOptions
	pending map[int64]*Call // map of request IDs to calls awaiting a response

	handler   *Handler
	responses *responseCache
}

// Handle sets the handler for requests and notifications from the peer.
func (c *Client) Handle(handler *Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler = handler
}

// HandleFunc registers fn for method, creating a handler if none is set.
func (c *Client) HandleFunc(method string, fn HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handler == nil {
		c.handler = NewHandler(nil)
	}
	c.handler.Register(method, fn)
}

func (c *Client) currentHandler() *Handler {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.handler
}

// SendRequest sends method with params and returns the pending call. Struct
// params are validated before anything is sent.
func (c *Client) SendRequest(ctx context.Context, method string, params any) (*Call, error) {
	if err := validateIfStruct(params); err != nil {
		return nil, err
	}

	id := atomic.AddInt64(&c.currentID, 1)

	content, err := encodeRequest(method, params, formatID(id))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	call := newCall(id, method)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &TransportError{Op: "send", Err: ErrClosed}
	}
	if _, ok := c.pending[id]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("request %d is already sent", id)
	}
	c.pending[id] = call
	c.mu.Unlock()

	if err := c.write(ctx, content); err != nil {
		c.forget(id)
		return nil, err
	}

	c.log(ctx).Trace().Int64("id", id).Str("method", method).Msg("Sent request")

	return call, nil
}

// Call sends a request and waits for its result, which is decoded into
// result unless it is nil. If ctx ends first the call is abandoned.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	call, err := c.SendRequest(ctx, method, params)
	if err != nil {
		return err
	}

	if err := call.Decode(ctx, result); err != nil {
		select {
		case <-call.Done():
		default:
			c.forget(call.ID)
		}
		return err
	}

	return nil
}

// SendNotification sends method with params without expecting a response.
func (c *Client) SendNotification(ctx context.Context, method string, params any) error {
	if err := validateIfStruct(params); err != nil {
		return err
	}

	content, err := encodeRequest(method, params, nil)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	if c.isClosed() {
		return &TransportError{Op: "send", Err: ErrClosed}
	}

	return c.write(ctx, content)
}

// Close closes the connection and fails every pending call with a
// *CancellationError. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.close(c.conf.closeMessage)
	})
	return c.closeErr
}

// shutdown closes the client without the closeSession exchange, which
// cannot complete once the read loop has stopped.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.closeErr = c.close(false)
	})
}

func (c *Client) close(sendCloseMessage bool) error {
	if sendCloseMessage {
		ctx, cancel := context.WithTimeout(context.Background(), c.conf.closeTimeout)
		if err := c.Call(ctx, "closeSession", nil, nil); err != nil {
			c.conf.logger.Warn().Err(err).Msg("Failed to send close message")
		}
		cancel()
	}

	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[int64]*Call)
	c.mu.Unlock()

	err := c.conn.Close()

	for _, call := range pending {
		call.complete(nil, &CancellationError{ID: call.ID, Method: call.Method})
	}

	if err != nil {
		return &TransportError{Op: "close", Err: err}
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// forget drops a pending call without completing it.
func (c *Client) forget(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, id)
}

func (c *Client) write(ctx context.Context, content []byte) error {
	if err := c.conn.Write(ctx, content); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}
