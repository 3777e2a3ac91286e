// Package zerologadapter provides a logger that writes to a
// github.com/rs/zerolog.
package zerologadapter

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pelicandb/pelican/pelconn"
)

type Logger struct {
	logger zerolog.Logger
}

// NewLogger accepts a zerolog.Logger as input and returns a new custom
// pelican logging façade as output.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{
		logger: logger.With().Str("module", "pelican").Logger(),
	}
}

func (pl *Logger) Log(ctx context.Context, level pelconn.LogLevel, msg string, data map[string]any) {
	var zlevel zerolog.Level
	switch level {
	case pelconn.LogLevelNone:
		zlevel = zerolog.NoLevel
	case pelconn.LogLevelError:
		zlevel = zerolog.ErrorLevel
	case pelconn.LogLevelWarn:
		zlevel = zerolog.WarnLevel
	case pelconn.LogLevelInfo:
		zlevel = zerolog.InfoLevel
	case pelconn.LogLevelDebug:
		zlevel = zerolog.DebugLevel
	default:
		zlevel = zerolog.DebugLevel
	}

	pl.logger.WithLevel(zlevel).Fields(data).Msg(msg)
}
