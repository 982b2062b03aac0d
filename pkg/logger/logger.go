// Package logger provides structured logging utilities.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level represents logging severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLevel parses a string into a Level.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is a structured JSON logger backed by zerolog.
// Entries carry "time", "level" and "msg" plus any key/value pairs.
type Logger struct {
	zl    zerolog.Logger
	level Level
}

// New creates a new Logger with the specified output and level.
func New(output io.Writer, level string) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{
		zl:    zerolog.New(output),
		level: ParseLevel(level),
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), level: LevelError + 1}
}

// With returns a new Logger with additional fields.
// Pairs whose key is not a string are skipped.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	ctx := l.zl.With()
	for i := 0; i < len(keyvals)-1; i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, keyvals[i+1])
	}
	return &Logger{zl: ctx.Logger(), level: l.level}
}

// Enabled reports whether entries at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.level
}

// Debug logs a message at debug level.
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.log(LevelDebug, msg, keyvals...)
}

// Info logs a message at info level.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.log(LevelInfo, msg, keyvals...)
}

// Warn logs a message at warn level.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.log(LevelWarn, msg, keyvals...)
}

// Error logs a message at error level.
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.log(LevelError, msg, keyvals...)
}

func (l *Logger) log(level Level, msg string, keyvals ...interface{}) {
	if l == nil || !l.Enabled(level) {
		return
	}

	// Log() emits no level field of its own; ours keeps the upper-case names.
	e := l.zl.Log().
		Str("time", time.Now().UTC().Format(time.RFC3339)).
		Str("level", level.String()).
		Str("msg", msg)

	for i := 0; i < len(keyvals)-1; i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		switch v := keyvals[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case string:
			e = e.Str(key, v)
		default:
			e = e.Interface(key, v)
		}
	}

	e.Send()
}
