// mediarpc talks JSON-RPC 2.0 to a Kurento-style media server.
//
// Usage:
//
//	mediarpc [options] <command> [args]
//
// Commands:
//
//	ping                   check that the server answers
//	call <method> [params] send one request and print its result
//	mirror                 read an SDP offer from stdin, build a WebRTC
//	                       loopback through a mirror filter and print the
//	                       answer and ICE candidates
//	serve                  run an in-memory media server for local testing
//
// Options are read from mediarpc.yaml, MEDIARPC_* environment variables
// (and .env), then flags:
//
//	--url           media server WebSocket URL
//	--access-token  token passed as the access_token query parameter
//	--heartbeat     ping interval, 0 disables the heartbeat
//	--timeout       request timeout
//	--success-field response member carrying results
//	--listen        address for serve
//	--log-level     trace, debug, info, warn, error or disabled
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/umk/mediarpc"
	"github.com/umk/mediarpc/internal/config"
)

func main() {
	flags := pflag.NewFlagSet("mediarpc", pflag.ContinueOnError)
	config.RegisterFlags(flags)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: mediarpc [options] ping|call|mirror|serve [args]")
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := newLogger(cfg.LogLevel)
	mediarpc.Configure(mediarpc.WithLogger(log))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	args := flags.Args()
	if len(args) == 0 {
		flags.Usage()
		os.Exit(2)
	}

	app := &app{cfg: cfg, log: log}
	if err := app.run(ctx, args[0], args[1:]); err != nil {
		log.Error().Err(err).Str("command", args[0]).Msg("Command failed")
		os.Exit(1)
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
