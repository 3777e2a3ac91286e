// Package zapadapter provides a logger that writes to a go.uber.org/zap.Logger.
package zapadapter

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pelicandb/pelican/pelconn"
)

type Logger struct {
	logger *zap.Logger
}

// NewLogger wraps a zap.Logger in the pelican logging façade.
func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (pl *Logger) Log(ctx context.Context, level pelconn.LogLevel, msg string, data map[string]any) {
	fields := make([]zapcore.Field, 0, len(data))
	for k, v := range data {
		fields = append(fields, zap.Any(k, v))
	}

	switch level {
	case pelconn.LogLevelTrace:
		pl.logger.Debug(msg, append(fields, zap.Stringer("PELICAN_LOG_LEVEL", level))...)
	case pelconn.LogLevelDebug:
		pl.logger.Debug(msg, fields...)
	case pelconn.LogLevelInfo:
		pl.logger.Info(msg, fields...)
	case pelconn.LogLevelWarn:
		pl.logger.Warn(msg, fields...)
	case pelconn.LogLevelError:
		pl.logger.Error(msg, fields...)
	default:
		pl.logger.Error(msg, append(fields, zap.Stringer("PELICAN_LOG_LEVEL", level))...)
	}
}
