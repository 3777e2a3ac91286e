package pelconn

import (
	"context"
	"errors"
	"fmt"
)

// LogLevel selects how much the connector reports through the configured
// Logger. The zero value means no level was specified.
type LogLevel int

const (
	LogLevelTrace = LogLevel(6)
	LogLevelDebug = LogLevel(5)
	LogLevelInfo  = LogLevel(4)
	LogLevelWarn  = LogLevel(3)
	LogLevelError = LogLevel(2)
	LogLevelNone  = LogLevel(1)
)

func (ll LogLevel) String() string {
	switch ll {
	case LogLevelTrace:
		return "trace"
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	case LogLevelNone:
		return "none"
	default:
		return fmt.Sprintf("invalid level %d", int(ll))
	}
}

// LogLevelFromString converts a level name to a LogLevel.
func LogLevelFromString(s string) (LogLevel, error) {
	switch s {
	case "trace":
		return LogLevelTrace, nil
	case "debug":
		return LogLevelDebug, nil
	case "info":
		return LogLevelInfo, nil
	case "warn":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "none":
		return LogLevelNone, nil
	default:
		return 0, errors.New("invalid log level")
	}
}

// Logger is the interface used to get log output from pelican internals.
// Adapters for common logging libraries live under log/.
type Logger interface {
	// Log a message at the given level with data key/value pairs. data
	// may be nil.
	Log(ctx context.Context, level LogLevel, msg string, data map[string]any)
}

// LoggerFunc adapts a plain function to the Logger interface.
type LoggerFunc func(ctx context.Context, level LogLevel, msg string, data map[string]any)

// Log delegates to the wrapped function.
func (f LoggerFunc) Log(ctx context.Context, level LogLevel, msg string, data map[string]any) {
	f(ctx, level, msg, data)
}

func (c *Connector) shouldLog(lvl LogLevel) bool {
	return c.config.Logger != nil && c.config.LogLevel >= lvl
}

func (c *Connector) log(ctx context.Context, lvl LogLevel, msg string, data map[string]any) {
	if !c.shouldLog(lvl) {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	if c.pid != 0 {
		data["pid"] = c.pid
	}
	c.config.Logger.Log(ctx, lvl, msg, data)
}
