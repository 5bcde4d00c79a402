package mediarpc

import "encoding/json"

const version = "2.0"

const defaultSuccessField = "result"

// rpcRequest represents a JSON-RPC 2.0 request or notification object.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response object. The member holding
// Result is chosen by the client, so it is encoded by encodeResponse.
type rpcResponse struct {
	Result json.RawMessage
	Error  *rpcError
	ID     json.RawMessage
}

// rpcError represents a JSON-RPC 2.0 error object. When raw is set it is
// written instead of the other fields.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`

	raw json.RawMessage
}

func (e *rpcError) MarshalJSON() ([]byte, error) {
	if len(e.raw) > 0 {
		return e.raw, nil
	}
	type plain rpcError
	return json.Marshal((*plain)(e))
}

// rpcMessage combines the fields of requests, notifications and responses.
type rpcMessage struct {
	JSONRPC string
	Method  string
	Params  json.RawMessage
	ID      json.RawMessage
	Result  json.RawMessage
	Error   json.RawMessage // the error object exactly as received

	hasResult bool
}

func (m *rpcMessage) hasID() bool {
	return len(m.ID) > 0
}

func (m *rpcMessage) asRequest() rpcRequest {
	return rpcRequest{
		JSONRPC: m.JSONRPC,
		Method:  m.Method,
		Params:  m.Params,
		ID:      m.ID,
	}
}
