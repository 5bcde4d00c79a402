package mediarpc

import (
	"context"
	"encoding/json"
	"errors"
)

type clientKey struct{}

// ClientFromContext returns the client that received the request or
// notification being handled. It is nil outside of a handler.
func ClientFromContext(ctx context.Context) *Client {
	c, _ := ctx.Value(clientKey{}).(*Client)
	return c
}

// rpcParseError represents an error that occurred while parsing an RPC request.
type rpcParseError struct {
	err error
}

func (e rpcParseError) Error() string {
	return "failed to parse RPC request: " + e.err.Error()
}

func (e rpcParseError) Unwrap() error {
	return e.err
}

func (e rpcParseError) RPCError() *Error {
	return &Error{Code: CodeInvalidParams, Message: e.err.Error()}
}

// RPCContext gives a handler access to the inbound request or notification.
type RPCContext interface {
	Method() string
	// IsNotification reports whether the peer expects no response.
	IsNotification() bool
	Params() json.RawMessage
	GetRequestBody(v any) error
	GetResponse(v any) (any, error)
}

type rpcContext struct {
	req rpcRequest
}

func (r *rpcContext) Method() string {
	return r.req.Method
}

func (r *rpcContext) IsNotification() bool {
	return len(r.req.ID) == 0
}

func (r *rpcContext) Params() json.RawMessage {
	return r.req.Params
}

func (r *rpcContext) GetRequestBody(v any) error {
	params := r.req.Params
	if len(params) == 0 {
		params = null
	}
	if err := json.Unmarshal(params, v); err != nil {
		return rpcParseError{err: err}
	}

	if err := validateIfStruct(v); err != nil {
		return rpcParseError{err: err}
	}

	return nil
}

func (r *rpcContext) GetResponse(v any) (any, error) {
	if err := validateIfStruct(v); err != nil {
		return nil, errors.New("invalid response from handler")
	}
	return v, nil
}
