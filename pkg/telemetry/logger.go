package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the structured logger of a run. Every derived logger shares the
// writer and level of its parent.
type Logger struct {
	zlog zerolog.Logger
}

type loggerContextKey struct{}

var fallbackLogger = &Logger{
	zlog: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger().
		Level(zerolog.InfoLevel),
}

// NewLogger creates a logger writing to cfg.Output: stderr by default, stdout,
// or a file opened for appending.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	w, err := logOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	return NewLoggerWithWriter(cfg, w), nil
}

func logOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	return os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// NewLoggerWithWriter creates a logger writing to w. The console format is
// meant for terminals, json for log collectors.
func NewLoggerWithWriter(cfg LoggingConfig, w io.Writer) *Logger {
	zerolog.TimeFieldFormat = timeFieldFormat(cfg.TimeFormat)
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zctx := zerolog.New(w).Level(level).With().Timestamp()
	if cfg.EnableCaller {
		zctx = zctx.Caller()
	}
	return &Logger{zlog: zctx.Logger()}
}

func timeFieldFormat(format string) string {
	switch format {
	case "unix":
		return zerolog.TimeFormatUnix
	case "unixms":
		return zerolog.TimeFormatUnixMs
	}
	return time.RFC3339
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Zerolog returns the underlying logger, for packages that take a
// zerolog.Logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// WithContext stores the logger in ctx.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext returns the logger stored in ctx, or a console logger on
// stderr at info level.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return fallbackLogger
}

func (l *Logger) with(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{zlog: fn(l.zlog.With()).Logger()}
}

// NewComponentLogger returns a logger tagged with a component field.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Str("component", component)
	})
}

// WithField returns a logger with one more field.
func (l *Logger) WithField(key string, value any) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Interface(key, value)
	})
}

// WithFields returns a logger with more fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Fields(fields)
	})
}

// WithRunID tags the logger with the run ID.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Str("run_id", runID)
	})
}

// WithResource tags the logger with a description resource.
func (l *Logger) WithResource(resource string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Str("resource", resource)
	})
}

// WithError attaches err to every message.
func (l *Logger) WithError(err error) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Err(err)
	})
}

func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zlog.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zlog.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }

func (l *Logger) Debugf(format string, args ...any) { l.zlog.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.zlog.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.zlog.Warn().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.zlog.Error().Msgf(format, args...) }
