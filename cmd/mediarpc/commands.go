package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/umk/mediarpc"
	"github.com/umk/mediarpc/internal/config"
	"github.com/umk/mediarpc/kms"
	"github.com/umk/mediarpc/kms/kmstest"
	"github.com/umk/mediarpc/ws"
)

type app struct {
	cfg *config.Config
	log zerolog.Logger
	out io.Writer
	in  io.Reader
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	if a.out == nil {
		a.out = os.Stdout
	}
	if a.in == nil {
		a.in = os.Stdin
	}

	switch command {
	case "ping":
		return a.ping(ctx)
	case "call":
		return a.call(ctx, args)
	case "mirror":
		return a.mirror(ctx)
	case "serve":
		return a.serve(ctx)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// connect dials the media server and starts the read loop and, if
// configured, the heartbeat. The returned context ends when either stops.
func (a *app) connect(ctx context.Context) (context.Context, *mediarpc.Client, error) {
	conn, err := ws.Dial(ctx, a.cfg.URL, ws.DialOptions{AccessToken: a.cfg.AccessToken})
	if err != nil {
		return nil, nil, err
	}
	a.log.Debug().Str("url", a.cfg.URL).Str("conn", conn.ID()).Msg("Connected to media server")

	client := mediarpc.NewClient(conn,
		mediarpc.WithSuccessField(a.cfg.SuccessField),
		mediarpc.WithClientLogger(a.log),
	)

	ctx, cancel := context.WithCancelCause(ctx)
	go func() {
		err := client.Run(ctx)
		if err == nil {
			err = mediarpc.ErrClosed
		}
		cancel(err)
	}()

	if a.cfg.Heartbeat > 0 {
		go func() {
			_ = mediarpc.Heartbeat{
				Interval: a.cfg.Heartbeat,
				OnFailure: func(err error) {
					cancel(fmt.Errorf("heartbeat failed: %w", err))
					_ = client.Close()
				},
			}.Run(ctx, client)
		}()
	}

	return ctx, client, nil
}

func (a *app) ping(ctx context.Context) error {
	ctx, client, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	session := kms.NewSession(client, kms.WithLogger(a.log))

	reqCtx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	if err := session.Ping(reqCtx); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "pong from %s in %s\n", a.cfg.URL, time.Since(start).Round(time.Microsecond))
	return nil
}

func (a *app) call(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: call <method> [params]")
	}

	var params json.RawMessage
	if len(args) == 2 {
		if !json.Valid([]byte(args[1])) {
			return fmt.Errorf("params are not valid JSON: %s", args[1])
		}
		params = json.RawMessage(args[1])
	}

	ctx, client, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	reqCtx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()

	var result json.RawMessage
	if err := client.Call(reqCtx, args[0], params, &result); err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(result))
	return err
}

func (a *app) mirror(ctx context.Context) error {
	offer, err := io.ReadAll(a.in)
	if err != nil {
		return fmt.Errorf("failed to read offer: %w", err)
	}
	if strings.TrimSpace(string(offer)) == "" {
		return errors.New("no SDP offer on stdin")
	}

	ctx, client, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	session := kms.NewSession(client, kms.WithLogger(a.log))

	reqCtx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()

	pipeline, err := session.Create(reqCtx, kms.MediaPipeline())
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.RequestTimeout)
		defer cancel()
		if err := pipeline.Release(releaseCtx); err != nil {
			a.log.Warn().Err(err).Str("pipeline", pipeline.ID).Msg("Failed to release pipeline")
		}
	}()

	endpoint, err := session.Create(reqCtx, kms.WebRtcEndpoint(pipeline))
	if err != nil {
		return err
	}
	filter, err := session.Create(reqCtx, kms.MirrorFilter(pipeline))
	if err != nil {
		return err
	}
	if err := endpoint.Connect(reqCtx, filter); err != nil {
		return err
	}
	if err := filter.Connect(reqCtx, endpoint); err != nil {
		return err
	}

	out := newLineWriter(a.out)
	_, err = endpoint.OnIceCandidate(reqCtx, func(c kms.IceCandidate) {
		if err := out.Encode(map[string]any{"candidate": c}); err != nil {
			a.log.Warn().Err(err).Msg("Failed to print candidate")
		}
	})
	if err != nil {
		return err
	}

	answer, err := endpoint.ProcessOffer(reqCtx, string(offer))
	if err != nil {
		return err
	}
	if err := out.Encode(map[string]string{"answer": answer}); err != nil {
		return err
	}
	if err := endpoint.GatherCandidates(reqCtx); err != nil {
		return err
	}

	a.log.Info().Str("pipeline", pipeline.ID).Msg("Mirror is running, interrupt to stop")
	<-ctx.Done()

	if cause := context.Cause(ctx); !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

// lineWriter prints JSON values one per line. Candidates are printed from
// the client's read loop while the answer is printed by the command.
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{enc: json.NewEncoder(w)}
}

func (w *lineWriter) Encode(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}

func (a *app) serve(ctx context.Context) error {
	fake := kmstest.NewServer()
	srv := ws.NewServer(fake.Handler(),
		ws.WithLogger(a.log),
		ws.WithClientOptions(mediarpc.WithSuccessField(a.cfg.SuccessField)),
		ws.WithOnConnect(func(ctx context.Context, client *mediarpc.Client) {
			zerolog.Ctx(ctx).Info().Str("session_id", fake.SessionID()).Msg("Media client connected")
		}),
	)

	a.log.Info().Str("listen", a.cfg.Listen).Msg("Serving in-memory media server")
	return srv.ListenAndServe(ctx, "tcp", a.cfg.Listen)
}
