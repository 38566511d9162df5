package observability

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LogLevel represents log severity
type LogLevel int32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
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
		return "UNKNOWN"
	}
}

// ParseLevel maps a LOG_LEVEL value onto a LogLevel, defaulting to INFO
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// sink is shared by a logger and everything derived from it, so SetLevel and
// SetOutput reach loggers that were created earlier with WithField.
type sink struct {
	mu          sync.Mutex
	out         *log.Logger
	level       atomic.Int32
	serviceName string
}

// Logger writes logfmt-style lines: time, level, caller, message, sorted
// fields. Loggers are immutable; With* returns a child sharing the sink.
type Logger struct {
	sink   *sink
	fields map[string]interface{}
}

var defaultLogger *Logger
var loggerOnce sync.Once

// NewLogger creates a logger writing to stderr. Standard output is left to
// commands that print results.
func NewLogger(serviceName string, minLevel LogLevel) *Logger {
	s := &sink{out: log.New(os.Stderr, "", 0), serviceName: serviceName}
	s.level.Store(int32(minLevel))
	return &Logger{sink: s}
}

// GetLogger returns the process logger, configured from SERVICE_NAME and
// LOG_LEVEL on first use
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		serviceName := os.Getenv("SERVICE_NAME")
		if serviceName == "" {
			serviceName = "mediaindex"
		}
		defaultLogger = NewLogger(serviceName, ParseLevel(os.Getenv("LOG_LEVEL")))
	})
	return defaultLogger
}

// SetOutput redirects this logger and every logger derived from it
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.out = log.New(w, "", 0)
}

// SetLevel changes the minimum level for this logger and its children
func (l *Logger) SetLevel(level LogLevel) {
	l.sink.level.Store(int32(level))
}

// Enabled reports whether a line at level would be written
func (l *Logger) Enabled(level LogLevel) bool {
	return int32(level) >= l.sink.level.Load()
}

// WithField returns a child logger with the field added
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.derive(map[string]interface{}{key: value})
}

// WithFields returns a child logger with the fields added
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.derive(fields)
}

// WithContext adds the trace and span ids of the active span, if any
func (l *Logger) WithContext(ctx context.Context) *Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return l
	}
	return l.derive(map[string]interface{}{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
	})
}

func (l *Logger) derive(extra map[string]interface{}) *Logger {
	fields := make(map[string]interface{}, len(l.fields)+len(extra))
	for k, v := range l.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	return &Logger{sink: l.sink, fields: fields}
}

func (l *Logger) Debug(msg string) { l.log(LevelDebug, msg) }
func (l *Logger) Info(msg string)  { l.log(LevelInfo, msg) }
func (l *Logger) Warn(msg string)  { l.log(LevelWarn, msg) }
func (l *Logger) Error(msg string) { l.log(LevelError, msg) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.Enabled(LevelDebug) {
		l.log(LevelDebug, fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(LevelInfo, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(LevelWarn, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(LevelError, fmt.Sprintf(format, args...))
}

func (l *Logger) log(level LogLevel, msg string) {
	if !l.Enabled(level) {
		return
	}

	// every exported entry point calls log directly, so the caller is two frames up
	_, file, line, _ := runtime.Caller(2)
	if idx := strings.LastIndex(file, "/"); idx >= 0 {
		file = file[idx+1:]
	}

	var b strings.Builder
	b.WriteString(time.Now().Format("2006/01/02 15:04:05"))
	fmt.Fprintf(&b, " [%s] %s:%d %s", level, file, line, msg)

	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(fieldValue(l.fields[k]))
	}
	if l.sink.serviceName != "" {
		b.WriteString(" service=")
		b.WriteString(l.sink.serviceName)
	}

	l.sink.mu.Lock()
	out := l.sink.out
	l.sink.mu.Unlock()
	out.Println(b.String())
}

// fieldValue quotes values that would break key=value parsing, such as
// storage paths containing spaces
func fieldValue(v interface{}) string {
	s := fmt.Sprint(v)
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// Package-level logging through the process logger

func Debug(msg string) { GetLogger().log(LevelDebug, msg) }
func Info(msg string)  { GetLogger().log(LevelInfo, msg) }
func Warn(msg string)  { GetLogger().log(LevelWarn, msg) }
func Error(msg string) { GetLogger().log(LevelError, msg) }

func Debugf(format string, args ...interface{}) {
	if l := GetLogger(); l.Enabled(LevelDebug) {
		l.log(LevelDebug, fmt.Sprintf(format, args...))
	}
}

func Infof(format string, args ...interface{}) {
	GetLogger().log(LevelInfo, fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...interface{}) {
	GetLogger().log(LevelWarn, fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...interface{}) {
	GetLogger().log(LevelError, fmt.Sprintf(format, args...))
}

// WithField returns a process logger child with the field
func WithField(key string, value interface{}) *Logger {
	return GetLogger().WithField(key, value)
}

// WithFields returns a process logger child with the fields
func WithFields(fields map[string]interface{}) *Logger {
	return GetLogger().WithFields(fields)
}

// WithContext returns a process logger child with trace context
func WithContext(ctx context.Context) *Logger {
	return GetLogger().WithContext(ctx)
}

// Span attribute helpers for common fields

func MediaID(id string) attribute.KeyValue {
	return attribute.String("media.id", id)
}

func MediaPath(path string) attribute.KeyValue {
	return attribute.String("media.path", path)
}

func MediaKind(kind string) attribute.KeyValue {
	return attribute.String("media.kind", kind)
}

func StoryName(name string) attribute.KeyValue {
	return attribute.String("media.story", name)
}

func Operation(op string) attribute.KeyValue {
	return attribute.String("operation", op)
}

func Duration(d time.Duration) attribute.KeyValue {
	return attribute.Int64("duration_ms", d.Milliseconds())
}
