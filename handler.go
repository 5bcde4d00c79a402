package mediarpc

import (
	"context"
	"encoding/json"
	"sync"
)

// HandlerFunc defines the signature of handlers for requests and
// notifications sent by the peer. The result is ignored for notifications.
type HandlerFunc func(ctx context.Context, c RPCContext) (any, error)

// Handler routes inbound requests and notifications by method name.
type Handler struct {
	mu    sync.RWMutex
	funcs map[string]HandlerFunc
}

func NewHandler(funcs map[string]HandlerFunc) *Handler {
	h := &Handler{funcs: make(map[string]HandlerFunc, len(funcs))}
	for method, fn := range funcs {
		h.funcs[method] = fn
	}
	return h
}

// Register adds or replaces the handler for method.
func (h *Handler) Register(method string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.funcs[method] = fn
}

func (h *Handler) lookup(method string) (HandlerFunc, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	fn, ok := h.funcs[method]
	return fn, ok
}

func (h *Handler) Handle(ctx context.Context, req rpcRequest) rpcResponse {
	if req.JSONRPC != version || req.Method == "" {
		return rpcResponse{
			Error: &rpcError{Code: CodeInvalidRequest, Message: "Invalid request"},
			ID:    req.ID,
		}
	}

	handler, ok := h.lookup(req.Method)
	if !ok {
		return rpcResponse{
			Error: &rpcError{Code: CodeMethodNotFound, Message: "Method not found"},
			ID:    req.ID,
		}
	}

	rpcCtx := &rpcContext{req: req}

	result, err := handler(ctx, rpcCtx)
	if err != nil {
		return rpcResponse{
			Error: getRPCErrorOrDefault(err).asRPCError(),
			ID:    req.ID,
		}
	}

	if req.ID == nil {
		return rpcResponse{}
	}

	b, err := json.Marshal(result)
	if err != nil {
		return rpcResponse{
			Error: &rpcError{Code: CodeInternalError, Message: "Internal error"},
			ID:    req.ID,
		}
	}

	return rpcResponse{
		Result: json.RawMessage(b),
		ID:     req.ID,
	}
}
