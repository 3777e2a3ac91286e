// Package logrusadapter provides a logger that writes to a
// github.com/sirupsen/logrus.Logger.
package logrusadapter

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/pelicandb/pelican/pelconn"
)

type Logger struct {
	l logrus.FieldLogger
}

// NewLogger wraps a logrus FieldLogger in the pelican logging façade.
func NewLogger(l logrus.FieldLogger) *Logger {
	return &Logger{l: l}
}

func (pl *Logger) Log(ctx context.Context, level pelconn.LogLevel, msg string, data map[string]any) {
	var logger logrus.FieldLogger
	if data != nil {
		logger = pl.l.WithFields(logrus.Fields(data))
	} else {
		logger = pl.l
	}

	switch level {
	case pelconn.LogLevelTrace:
		logger.WithField("PELICAN_LOG_LEVEL", level).Debug(msg)
	case pelconn.LogLevelDebug:
		logger.Debug(msg)
	case pelconn.LogLevelInfo:
		logger.Info(msg)
	case pelconn.LogLevelWarn:
		logger.Warn(msg)
	case pelconn.LogLevelError:
		logger.Error(msg)
	default:
		logger.WithField("PELICAN_LOG_LEVEL", level).Error(msg)
	}
}
