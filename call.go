package mediarpc

import (
	"context"
	"encoding/json"
)

// Call is a request awaiting its response. It completes exactly once: with
// the peer's result, with the peer's *Error, or with a *CancellationError
// when the client is closed first.
type Call struct {
	ID     int64
	Method string

	done   chan struct{}
	result json.RawMessage
	err    error
}

func newCall(id int64, method string) *Call {
	return &Call{
		ID:     id,
		Method: method,
		done:   make(chan struct{}),
	}
}

// complete must be called by whoever removed the call from the pending table.
func (c *Call) complete(result json.RawMessage, err error) {
	c.result = result
	c.err = err
	close(c.done)
}

// Done is closed once the call has completed.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call completes or ctx ends. Ending ctx leaves the
// call pending.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// Decode waits for the call and unmarshals its result into v.
func (c *Call) Decode(ctx context.Context, v any) error {
	result, err := c.Wait(ctx)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(result, v); err != nil {
		return err
	}
	return validateIfStruct(v)
}

// Then invokes fn from a new goroutine once the call completes.
func (c *Call) Then(fn func(result json.RawMessage, err error)) {
	go func() {
		<-c.done
		fn(c.result, c.err)
	}()
}
