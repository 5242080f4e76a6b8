package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Levels are the accepted level names, most verbose first.
var Levels = []string{"trace", "debug", "info", "warn", "error", "fatal", "silent"}

// Formats are the accepted output formats.
var Formats = []string{"console", "json"}

// Logger wraps zerolog with subsystem and field scoped children.
type Logger struct {
	zl zerolog.Logger
}

// New creates a root logger writing JSON lines to w at the given level.
// A nil w means human-readable console output on stderr.
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	lvl, _ := ParseLevel(level)
	zl := zerolog.New(w).With().Timestamp().Logger().Level(lvl)
	return &Logger{zl: zl}
}

// NewFormat creates a stderr logger in the named format ("console" or "json").
func NewFormat(format, level string) *Logger {
	if strings.EqualFold(format, "json") {
		return New(os.Stderr, level)
	}
	return New(nil, level)
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Sub returns a child logger tagged with a subsystem name.
func (l *Logger) Sub(subsystem string) *Logger {
	return l.With("subsystem", subsystem)
}

// With returns a child logger that adds key=value to every event.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// Level reports the minimum level that is written.
func (l *Logger) Level() zerolog.Level { return l.zl.GetLevel() }

// ParseLevel maps a level name to its zerolog level, ignoring case.
// Unknown names yield InfoLevel and false.
func ParseLevel(s string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "fatal":
		return zerolog.FatalLevel, true
	case "silent", "off":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
