package mediarpc

import (
	"context"
	"sync"
)

// responseCache remembers the encoded responses to the most recent inbound
// requests so that a request repeated by the peer is answered again without
// running the handler twice. A nil entry marks a request still in progress.
type responseCache struct {
	mu      sync.Mutex
	size    int
	order   []string
	answers map[string][]byte
}

func newResponseCache(size int) *responseCache {
	return &responseCache{
		size:    size,
		answers: make(map[string][]byte),
	}
}

// begin reports whether id was seen before and, if so, its cached answer.
func (r *responseCache) begin(id string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if answer, ok := r.answers[id]; ok {
		return answer, true
	}
	if r.size <= 0 {
		return nil, false
	}

	r.answers[id] = nil
	r.order = append(r.order, id)
	for len(r.order) > r.size {
		delete(r.answers, r.order[0])
		r.order = r.order[1:]
	}

	return nil, false
}

func (r *responseCache) finish(id string, answer []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.answers[id]; ok {
		r.answers[id] = answer
	}
}

func (c *Client) serveRequest(ctx context.Context, msg *rpcMessage, spawn func(func() error) error) error {
	key := string(msg.ID)

	if answer, duplicated := c.responses.begin(key); duplicated {
		if answer == nil {
			c.log(ctx).Debug().Str("id", key).Str("method", msg.Method).
				Msg("Ignoring duplicated request still in progress")
			return nil
		}
		c.log(ctx).Debug().Str("id", key).Str("method", msg.Method).
			Msg("Answering duplicated request from cache")
		return c.write(ctx, answer)
	}

	req := msg.asRequest()
	handler := c.currentHandler()

	return spawn(func() error {
		var resp rpcResponse
		if handler == nil {
			resp = rpcResponse{
				Error: &rpcError{Code: CodeMethodNotFound, Message: "Method not found"},
				ID:    req.ID,
			}
		} else {
			resp = handler.Handle(ctx, req)
		}

		b, err := encodeResponse(c.conf.successField, resp)
		if err != nil {
			return err
		}
		c.responses.finish(key, b)

		return c.write(ctx, b)
	})
}

func (c *Client) serveNotification(ctx context.Context, msg *rpcMessage) error {
	handler := c.currentHandler()
	if handler == nil {
		c.log(ctx).Debug().Str("method", msg.Method).Msg("No handler for notification")
		return nil
	}

	resp := handler.Handle(ctx, msg.asRequest())
	if resp.Error != nil {
		c.log(ctx).Warn().
			Str("method", msg.Method).
			Int("code", resp.Error.Code).
			Str("error", resp.Error.Message).
			Msg("Notification was not processed")
	}

	return nil
}
