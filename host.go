package mediarpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultResponseCacheSize = 128
	defaultCloseTimeout      = 3 * time.Second
)

type ClientOption func(*clientOptions)

type clientOptions struct {
	successField      string
	handler           *Handler
	logger            *zerolog.Logger
	closeMessage      bool
	closeTimeout      time.Duration
	responseCacheSize int
}

// WithSuccessField sets the response member that carries the success value
// for both received and sent responses. The default is "result".
func WithSuccessField(name string) ClientOption {
	return func(opts *clientOptions) {
		opts.successField = name
	}
}

// WithHandler sets the handler for requests and notifications initiated by
// the peer.
func WithHandler(handler *Handler) ClientOption {
	return func(opts *clientOptions) {
		opts.handler = handler
	}
}

// WithClientLogger overrides the package logger for one client.
func WithClientLogger(l zerolog.Logger) ClientOption {
	return func(opts *clientOptions) {
		opts.logger = &l
	}
}

// WithCloseMessage makes Close send a closeSession request first and wait up
// to timeout for its response.
func WithCloseMessage(timeout time.Duration) ClientOption {
	return func(opts *clientOptions) {
		opts.closeMessage = true
		if timeout > 0 {
			opts.closeTimeout = timeout
		}
	}
}

// WithResponseCache sets how many answered inbound request ids are
// remembered for duplicate detection.
func WithResponseCache(size int) ClientOption {
	return func(opts *clientOptions) {
		opts.responseCacheSize = size
	}
}

// NewClient creates a client over conn. Call Run to start receiving, or feed
// frames to Receive directly.
func NewClient(conn Conn, opts ...ClientOption) *Client {
	options := clientOptions{
		successField:      defaultSuccessField,
		closeTimeout:      defaultCloseTimeout,
		responseCacheSize: defaultResponseCacheSize,
	}

	for _, opt := range opts {
		opt(&options)
	}

	if options.logger == nil {
		l := logger
		options.logger = &l
	}

	return &Client{
		conn:      conn,
		conf:      options,
		pending:   make(map[int64]*Call),
		handler:   options.handler,
		responses: newResponseCache(options.responseCacheSize),
	}
}

// Run reads frames from the connection until it is closed. Malformed JSON
// ends the loop with an error; other protocol errors are logged and the
// frame is dropped. Requests from the peer are served concurrently, while
// responses and notifications are processed in arrival order. The client is
// closed when Run returns.
func (c *Client) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	defer wg.Wait()
	defer c.shutdown()

	async := func(fn func() error) error {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				c.log(ctx).Warn().Err(err).Msg("Failed to answer request")
			}
		}()
		return nil
	}

	for {
		buf, err := c.conn.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || c.isClosed() {
				return nil
			}
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return &TransportError{Op: "read", Err: err}
		}

		if err := c.dispatch(ctx, buf, async); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				// A syntax error is a protocol violation that may result in an
				// undefined behavior, so the loop is terminated.
				return err
			}
			c.log(ctx).Warn().Err(err).Msg("Dropping inbound message")
		}
	}
}

func (c *Client) log(ctx context.Context) *zerolog.Logger {
	return loggerFromContext(ctx, c.conf.logger)
}
