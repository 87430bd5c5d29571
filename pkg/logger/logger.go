package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a leveled structured logger backed by zerolog.
type Logger struct {
	zl zerolog.Logger
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or file path
	TimeFormat string // defaults to RFC3339Nano
}

// New builds a logger from cfg. A nil cfg logs JSON at info to stdout.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	return NewWithWriter(cfg, out)
}

// NewWithWriter is New with an explicit destination; cfg.Output is ignored.
func NewWithWriter(cfg *Config, w io.Writer) (*Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	lvl := cfg.Level
	if lvl == "" {
		lvl = "info"
	}
	level, err := zerolog.ParseLevel(lvl)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	tf := cfg.TimeFormat
	if tf == "" {
		tf = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = tf

	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: tf}
	}

	zl := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		CallerWithSkipFrameCount(4).
		Logger()
	return &Logger{zl: zl}, nil
}

func openOutput(dst string) (io.Writer, error) {
	switch dst {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(dst, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("could not open log file: %w", err)
	}
	return f, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func (l *Logger) Debug(msg string, fields ...Field) { emit(l.zl.Debug(), msg, fields) }

func (l *Logger) Info(msg string, fields ...Field) { emit(l.zl.Info(), msg, fields) }

func (l *Logger) Warn(msg string, fields ...Field) { emit(l.zl.Warn(), msg, fields) }

func (l *Logger) Error(msg string, fields ...Field) { emit(l.zl.Error(), msg, fields) }

// With returns a child logger carrying fields on every event.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = f.onContext(ctx)
	}
	return &Logger{zl: ctx.Logger()}
}

func emit(ev *zerolog.Event, msg string, fields []Field) {
	if ev == nil {
		return
	}
	for _, f := range fields {
		f.onEvent(ev)
	}
	ev.Msg(msg)
}

// Field is one typed key/value attached to an event or a child logger.
type Field struct {
	onEvent   func(*zerolog.Event)
	onContext func(zerolog.Context) zerolog.Context
}

func String(key, value string) Field {
	return Field{
		onEvent:   func(e *zerolog.Event) { e.Str(key, value) },
		onContext: func(c zerolog.Context) zerolog.Context { return c.Str(key, value) },
	}
}

func Strings(key string, value []string) Field {
	return Field{
		onEvent:   func(e *zerolog.Event) { e.Strs(key, value) },
		onContext: func(c zerolog.Context) zerolog.Context { return c.Strs(key, value) },
	}
}

func Int(key string, value int) Field {
	return Field{
		onEvent:   func(e *zerolog.Event) { e.Int(key, value) },
		onContext: func(c zerolog.Context) zerolog.Context { return c.Int(key, value) },
	}
}

func Int64(key string, value int64) Field {
	return Field{
		onEvent:   func(e *zerolog.Event) { e.Int64(key, value) },
		onContext: func(c zerolog.Context) zerolog.Context { return c.Int64(key, value) },
	}
}

func Float64(key string, value float64) Field {
	return Field{
		onEvent:   func(e *zerolog.Event) { e.Float64(key, value) },
		onContext: func(c zerolog.Context) zerolog.Context { return c.Float64(key, value) },
	}
}

func Bool(key string, value bool) Field {
	return Field{
		onEvent:   func(e *zerolog.Event) { e.Bool(key, value) },
		onContext: func(c zerolog.Context) zerolog.Context { return c.Bool(key, value) },
	}
}

// Duration logs d in milliseconds.
func Duration(key string, d time.Duration) Field {
	return Int64(key, d.Milliseconds())
}

func Error(err error) Field {
	return Field{
		onEvent:   func(e *zerolog.Event) { e.Err(err) },
		onContext: func(c zerolog.Context) zerolog.Context { return c.Err(err) },
	}
}

func Any(key string, value interface{}) Field {
	return Field{
		onEvent:   func(e *zerolog.Event) { e.Interface(key, value) },
		onContext: func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) },
	}
}
