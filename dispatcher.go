package mediarpc

import (
	"context"
	"strconv"
)

// Receive processes one inbound frame. Responses complete the matching
// pending call; requests and notifications go to the handler, which runs
// before Receive returns. A frame that is not valid JSON-RPC 2.0 yields a
// *ProtocolError and leaves the pending calls untouched.
func (c *Client) Receive(ctx context.Context, raw []byte) error {
	return c.dispatch(ctx, raw, func(fn func() error) error {
		return fn()
	})
}

// dispatch routes a frame. Work answering peer requests is handed to spawn.
func (c *Client) dispatch(ctx context.Context, raw []byte, spawn func(func() error) error) error {
	msg, err := decodeMessage(raw, c.conf.successField)
	if err != nil {
		return err
	}

	if msg.Method != "" {
		ctx = context.WithValue(ctx, clientKey{}, c)
	}

	switch {
	case msg.Method != "" && msg.hasID():
		return c.serveRequest(ctx, msg, spawn)
	case msg.Method != "":
		return c.serveNotification(ctx, msg)
	case msg.hasID():
		return c.resolve(msg)
	default:
		return &ProtocolError{Reason: "invalid message"}
	}
}

func (c *Client) resolve(msg *rpcMessage) error {
	// Process the response only if exactly one of result or error is set.
	if msg.hasResult && msg.Error != nil {
		return &ProtocolError{Reason: "both result and error are defined"}
	}
	if !msg.hasResult && msg.Error == nil {
		return &ProtocolError{Reason: "no result or error is defined"}
	}

	id, ok := parseID(msg.ID)
	if !ok {
		return &ProtocolError{Reason: "no pending call for id " + string(msg.ID)}
	}

	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return &ProtocolError{Reason: "no pending call for id " + strconv.FormatInt(id, 10)}
	}

	if msg.Error != nil {
		call.complete(nil, remoteError(msg.Error))
	} else {
		call.complete(msg.Result, nil)
	}

	return nil
}
