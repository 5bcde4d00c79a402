package mediarpc

import (
	"bytes"
	"encoding/json"
	"strconv"
)

var null = []byte("null")

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), null)
}

func isObject(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == '{'
}

// decodeMessage parses a single inbound frame. The success value of a
// response is read from successField.
func decodeMessage(raw []byte, successField string) (*rpcMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ProtocolError{Reason: "message is not defined"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &ProtocolError{Reason: "malformed message", Err: err}
	}
	if fields == nil {
		return nil, &ProtocolError{Reason: "message is not defined"}
	}

	var msg rpcMessage

	if v, ok := fields["jsonrpc"]; ok {
		// A non-string version is reported as an invalid version below.
		_ = json.Unmarshal(v, &msg.JSONRPC)
	}
	if msg.JSONRPC != version {
		return nil, &ProtocolError{Reason: "invalid version " + strconv.Quote(msg.JSONRPC)}
	}

	if v, ok := fields["method"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &msg.Method); err != nil {
			return nil, &ProtocolError{Reason: "invalid method", Err: err}
		}
	}
	if v, ok := fields["params"]; ok && !isNull(v) {
		msg.Params = v
	}
	if v, ok := fields["id"]; ok && !isNull(v) {
		msg.ID = v
	}
	if v, ok := fields[successField]; ok {
		msg.Result = v
		msg.hasResult = true
	}
	if v, ok := fields["error"]; ok && !isNull(v) {
		if !isObject(v) {
			return nil, &ProtocolError{Reason: "invalid error object"}
		}
		msg.Error = v
	}

	return &msg, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	if isNull(b) {
		return nil, nil
	}
	return b, nil
}

func encodeRequest(method string, params any, id json.RawMessage) ([]byte, error) {
	rawParams, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rpcRequest{
		JSONRPC: version,
		Method:  method,
		Params:  rawParams,
		ID:      id,
	})
}

// encodeResponse writes the members in a fixed order: version, success value
// or error, id.
func encodeResponse(successField string, resp rpcResponse) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"jsonrpc":"2.0",`)

	if resp.Error != nil {
		b, err := json.Marshal(resp.Error)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`"error":`)
		buf.Write(b)
	} else {
		key, err := json.Marshal(successField)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(resp.Result) == 0 {
			buf.Write(null)
		} else {
			buf.Write(resp.Result)
		}
	}

	buf.WriteString(`,"id":`)
	if len(resp.ID) == 0 {
		buf.Write(null)
	} else {
		buf.Write(resp.ID)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func formatID(id int64) json.RawMessage {
	return json.RawMessage(strconv.FormatInt(id, 10))
}

func parseID(raw json.RawMessage) (int64, bool) {
	id, err := strconv.ParseInt(string(bytes.TrimSpace(raw)), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
