package mediarpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ErrClosed is reported once the client has been closed.
var ErrClosed = errors.New("client is closed")

// Error is an error object returned by the remote peer. Raw holds the
// object exactly as it was received, including members beyond code,
// message and data. Code and Message are filled when they have the
// standard types; a peer sending a string code leaves Code at zero.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// remoteError wraps an error object received from the peer. raw must be a
// JSON object.
func remoteError(raw json.RawMessage) *Error {
	var fields map[string]json.RawMessage
	_ = json.Unmarshal(raw, &fields)

	e := &Error{Raw: raw}
	if v, ok := fields["code"]; ok {
		_ = json.Unmarshal(v, &e.Code)
	}
	if v, ok := fields["message"]; ok {
		if err := json.Unmarshal(v, &e.Message); err != nil {
			e.Message = string(v)
		}
	}
	if v, ok := fields["data"]; ok {
		e.Data = v
	}
	return e
}

// NewError builds an Error carrying data encoded as JSON.
func NewError(code int, message string, data any) *Error {
	e := &Error{Code: code, Message: message}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			e.Data = b
		}
	}
	return e
}

func (e *Error) Error() string {
	if e.Code == 0 && len(e.Raw) > 0 {
		return "RPC error: " + string(e.Raw)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

func (e *Error) asRPCError() *rpcError {
	return &rpcError{Code: e.Code, Message: e.Message, Data: e.Data, raw: e.Raw}
}

// ProtocolError reports an inbound message that violates JSON-RPC 2.0.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "protocol error: " + e.Reason + ": " + e.Err.Error()
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// TransportError reports a connection that is not open or a failed send.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "transport error: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// CancellationError fails a call that was still pending when the client
// was closed.
type CancellationError struct {
	ID     int64
	Method string
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("call %d (%s) cancelled: %s", e.ID, e.Method, ErrClosed)
}

func (e *CancellationError) Unwrap() error {
	return ErrClosed
}

func getRPCErrorOrDefault(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	var coded interface{ RPCError() *Error }
	if errors.As(err, &coded) {
		return coded.RPCError()
	}
	return &Error{Code: CodeInternalError, Message: "Internal error"}
}
