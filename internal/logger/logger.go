package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
)

var (
	mu           sync.RWMutex
	currentLevel = LevelInfo
	format       = "text"
	out          io.Writer = os.Stdout
	base                   = newZerolog(out, format)
)

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
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		// Critical maps onto zerolog's fatal level but is written with
		// WithLevel, so the process is never terminated.
		return zerolog.FatalLevel
	}
}

func newZerolog(w io.Writer, f string) zerolog.Logger {
	if f == "json" {
		return zerolog.New(w).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.DateTime,
		NoColor:    w != os.Stdout && w != os.Stderr,
	}).With().Timestamp().Logger()
}

// SetLevel sets the minimum level that is written. Unknown names are ignored.
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel = LevelDebug
	case "INFO":
		currentLevel = LevelInfo
	case "WARN":
		currentLevel = LevelWarn
	case "ERROR":
		currentLevel = LevelError
	case "CRITICAL":
		currentLevel = LevelCritical
	}
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// SetFormat switches between human readable ("text") and structured ("json") output.
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()

	f = strings.ToLower(f)
	if f != "json" {
		f = "text"
	}
	format = f
	base = newZerolog(out, format)
}

// SetOutput directs log output to "stdout", "stderr" or a file path.
func SetOutput(target string) error {
	var w io.Writer
	switch strings.ToLower(target) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = f
	}
	SetWriter(w)
	return nil
}

// SetWriter directs log output to w. Mostly useful in tests.
func SetWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	base = newZerolog(out, format)
}

// Fields is a set of structured key/value pairs attached to a log line.
type Fields map[string]any

// Entry is a logger carrying structured fields.
type Entry struct {
	fields Fields
}

// With returns an Entry carrying key=value.
func With(key string, value any) *Entry {
	return &Entry{fields: Fields{key: value}}
}

// WithFields returns an Entry carrying all the given fields.
func WithFields(fields Fields) *Entry {
	cp := make(Fields, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return &Entry{fields: cp}
}

// With adds key=value to a copy of the entry.
func (e *Entry) With(key string, value any) *Entry {
	cp := make(Fields, len(e.fields)+1)
	for k, v := range e.fields {
		cp[k] = v
	}
	cp[key] = value
	return &Entry{fields: cp}
}

func (e *Entry) Debug(format string, v ...any)    { log(LevelDebug, e.fields, format, v...) }
func (e *Entry) Info(format string, v ...any)     { log(LevelInfo, e.fields, format, v...) }
func (e *Entry) Warn(format string, v ...any)     { log(LevelWarn, e.fields, format, v...) }
func (e *Entry) Error(format string, v ...any)    { log(LevelError, e.fields, format, v...) }
func (e *Entry) Critical(format string, v ...any) { log(LevelCritical, e.fields, format, v...) }

func log(level Level, fields Fields, format string, v ...any) {
	mu.RLock()
	if level < currentLevel {
		mu.RUnlock()
		return
	}
	l := base
	mu.RUnlock()

	ev := l.WithLevel(level.zerolog())
	if level == LevelCritical {
		ev = ev.Bool("critical", true)
	}
	if len(fields) > 0 {
		ev = ev.Fields(map[string]any(fields))
	}
	ev.Msgf(format, v...)
}

func Debug(format string, v ...any) {
	log(LevelDebug, nil, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, nil, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, nil, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, nil, format, v...)
}

// Critical reports a condition that needs operator attention, such as an
// object left behind in a backend with no metadata pointing at it.
// Unlike zerolog's Fatal it never exits the process.
func Critical(format string, v ...any) {
	log(LevelCritical, nil, format, v...)
}
