package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/umk/mediarpc"
)

type ServerOption func(*Server)

// WithOnConnect registers fn to run for every accepted connection,
// concurrently with its read loop. ctx ends with the connection.
func WithOnConnect(fn func(ctx context.Context, client *mediarpc.Client)) ServerOption {
	return func(s *Server) {
		s.onConnect = fn
	}
}

func WithLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

func WithReadLimit(n int64) ServerOption {
	return func(s *Server) {
		s.readLimit = n
	}
}

// WithOriginPatterns allows cross-origin browsers matching patterns.
func WithOriginPatterns(patterns ...string) ServerOption {
	return func(s *Server) {
		s.originPatterns = patterns
	}
}

// WithClientOptions sets options for the per-connection clients.
func WithClientOptions(opts ...mediarpc.ClientOption) ServerOption {
	return func(s *Server) {
		s.clientOpts = append(s.clientOpts, opts...)
	}
}

// Server answers JSON-RPC over WebSocket, one mediarpc.Client per
// connection sharing the same handler.
type Server struct {
	shutdown chan struct{}
	once     sync.Once

	mu     sync.Mutex
	closed bool
	conns  sync.WaitGroup // counts the number of active connections

	handler        *mediarpc.Handler
	onConnect      func(ctx context.Context, client *mediarpc.Client)
	clientOpts     []mediarpc.ClientOption
	readLimit      int64
	originPatterns []string
	log            zerolog.Logger
}

func NewServer(handler *mediarpc.Handler, opts ...ServerOption) *Server {
	s := &Server{
		shutdown: make(chan struct{}),
		handler:  handler,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.conns.Add(1)
	s.mu.Unlock()
	defer s.conns.Done()

	wsc, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Failed to accept connection")
		return
	}

	conn := newConn(wsc, s.readLimit)
	log := s.log.With().Str("conn", conn.ID()).Logger()

	opts := append([]mediarpc.ClientOption{
		mediarpc.WithHandler(s.handler),
		mediarpc.WithClientLogger(log),
	}, s.clientOpts...)
	client := mediarpc.NewClient(conn, opts...)

	ctx, cancel := context.WithCancel(log.WithContext(r.Context()))
	defer cancel()

	// Close the connection when server is shutting down
	go func() {
		select {
		case <-s.shutdown:
			_ = client.Close()
		case <-ctx.Done():
		}
	}()

	log.Debug().Str("remote", r.RemoteAddr).Msg("Serving connection")

	if s.onConnect != nil {
		go s.onConnect(ctx, client)
	}

	if err := client.Run(ctx); err != nil {
		log.Warn().Err(err).Msg("Error serving connection")
	}

	log.Debug().Msg("Connection closed")
}

// ListenAndServe serves on a new listener until ctx ends or Close is called.
func (s *Server) ListenAndServe(ctx context.Context, network, address string) error {
	lr, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lr)
}

// Serve accepts connections on lr and waits for all of them to finish
// before returning.
func (s *Server) Serve(ctx context.Context, lr net.Listener) error {
	hs := &http.Server{
		Handler:     s,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		select {
		case <-s.shutdown:
		case <-ctx.Done():
			_ = s.Close()
		}
		_ = hs.Close()
	}()

	err := hs.Serve(lr)
	s.conns.Wait()

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops accepting connections and closes the active ones.
func (s *Server) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.shutdown)
	})

	return nil
}
