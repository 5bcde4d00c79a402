package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
)

type DialOptions struct {
	// AccessToken is passed opaquely as the access_token query parameter.
	AccessToken string
	// ReadLimit caps the size of a single message. Defaults to 1 MiB.
	ReadLimit  int64
	HTTPHeader http.Header
	HTTPClient *http.Client
}

// Dial connects to a JSON-RPC WebSocket endpoint such as
// ws://localhost:8888/kurento.
func Dial(ctx context.Context, rawURL string, opts DialOptions) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if opts.AccessToken != "" {
		q := u.Query()
		q.Set("access_token", opts.AccessToken)
		u.RawQuery = q.Encode()
	}

	c, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient: opts.HTTPClient,
		HTTPHeader: opts.HTTPHeader,
	})
	if err != nil {
		// Strip the query, it may carry the access token.
		u.RawQuery = ""
		return nil, fmt.Errorf("failed to dial %s: %w", u.Redacted(), err)
	}

	return newConn(c, opts.ReadLimit), nil
}
