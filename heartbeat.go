package mediarpc

import (
	"context"
	"errors"
	"time"
)

// Heartbeat keeps a media server session alive by sending ping requests.
type Heartbeat struct {
	Interval time.Duration
	// OnFailure is called once when a ping fails or is not answered within
	// Interval. The heartbeat stops afterwards.
	OnFailure func(err error)
}

type pingParams struct {
	Interval int64 `json:"interval" validate:"gt=0"`
}

// Run pings c until ctx ends or a ping fails. Only the first ping carries
// the interval, in milliseconds.
func (h Heartbeat) Run(ctx context.Context, c *Client) error {
	if h.Interval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for n := 0; ; n++ {
		var params any
		if n == 0 {
			params = pingParams{Interval: h.Interval.Milliseconds()}
		}

		pingCtx, cancel := context.WithTimeout(ctx, h.Interval)
		err := c.Call(pingCtx, "ping", params, nil)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log(ctx).Info().Err(err).Int("ping", n).Msg("Server did not respond to ping")
			if h.OnFailure != nil {
				h.OnFailure(err)
			}
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
