package mediarpc

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/umk/mediarpc/internal/slices"
)

const defaultRequestSize = 4 * 1024

var bufs *slices.SlicePool[byte]

var logger = zerolog.Nop()

var currentConf = packageConf{
	requestSize: defaultRequestSize,
}

func init() {
	bufs = slices.NewSlicePool[byte](currentConf.requestSize)
}

type Option func(*packageConf)

type packageConf struct {
	requestSize int
	logger      *zerolog.Logger
}

// WithRequestSize sets the request buffer pool size.
func WithRequestSize(size int) Option {
	return func(conf *packageConf) {
		conf.requestSize = size
	}
}

// WithLogger sets the global logger.
func WithLogger(l zerolog.Logger) Option {
	return func(conf *packageConf) {
		conf.logger = &l
	}
}

func Configure(opts ...Option) {
	previousConf := currentConf
	for _, opt := range opts {
		opt(&currentConf)
	}
	if currentConf.requestSize != previousConf.requestSize {
		bufs = slices.NewSlicePool[byte](currentConf.requestSize)
	}
	if currentConf.logger != nil {
		logger = *currentConf.logger
	}
}

// loggerFromContext prefers an enabled logger carried by ctx over fallback.
func loggerFromContext(ctx context.Context, fallback *zerolog.Logger) *zerolog.Logger {
	if ctx != nil {
		if ctxLog := zerolog.Ctx(ctx); ctxLog != nil && ctxLog.GetLevel() != zerolog.Disabled {
			return ctxLog
		}
	}
	return fallback
}
