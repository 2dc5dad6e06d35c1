package logging

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jmbish04/gh-stars-sink/internal/config"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

const (
	logDirPerm = 0755
	callerSkip = 3
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LogEntry is the JSON shape of one log line.
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// sink is shared by a logger and every logger derived from it with
// WithField so that lines from concurrent sync workers never interleave.
type sink struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// Logger provides structured, leveled logging.
type Logger struct {
	level      LogLevel
	format     string
	out        *sink
	fields     map[string]interface{}
	showCaller bool
}

var (
	globalMu     sync.RWMutex
	globalLogger = discardLogger()
)

// InitializeLogger replaces the global logger with one built from cfg.
func InitializeLogger(cfg config.LoggingConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return err
	}

	globalMu.Lock()
	previous := globalLogger
	globalLogger = logger
	globalMu.Unlock()

	_ = previous.Close()

	return nil
}

// NewLogger creates a logger writing to stdout, stderr or a size-rotated
// file.
func NewLogger(cfg config.LoggingConfig) (*Logger, error) {
	logger := &Logger{
		level:      parseLogLevel(cfg.Level),
		format:     strings.ToLower(cfg.Format),
		fields:     make(map[string]interface{}),
		showCaller: cfg.AddSource || strings.EqualFold(cfg.Level, "debug"),
	}

	switch strings.ToLower(cfg.Output) {
	case "stdout":
		logger.out = &sink{w: os.Stdout}
	case "stderr", "":
		logger.out = &sink{w: os.Stderr}
	case "file":
		if cfg.File == "" {
			return nil, errors.New("log file path is required when output is 'file'")
		}

		if err := os.MkdirAll(filepath.Dir(cfg.File), logDirPerm); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		logger.out = &sink{w: rotator, closer: rotator}
	default:
		return nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	return logger, nil
}

// NewWriterLogger returns a logger writing to w, mostly for tests.
func NewWriterLogger(w io.Writer, level, format string) *Logger {
	return &Logger{
		level:  parseLogLevel(level),
		format: strings.ToLower(format),
		out:    &sink{w: w},
		fields: make(map[string]interface{}),
	}
}

func discardLogger() *Logger {
	return NewWriterLogger(io.Discard, "error", "text")
}

func parseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l *Logger) derive(extra map[string]interface{}) *Logger {
	fields := make(map[string]interface{}, len(l.fields)+len(extra))
	for k, v := range l.fields {
		fields[k] = v
	}

	for k, v := range extra {
		fields[k] = v
	}

	return &Logger{
		level:      l.level,
		format:     l.format,
		out:        l.out,
		fields:     fields,
		showCaller: l.showCaller,
	}
}

// WithField returns a child logger carrying key=value on every line.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.derive(map[string]interface{}{key: value})
}

func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.derive(fields)
}

func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}

	return l.WithField("error", err.Error())
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	return level >= l.level
}

func (l *Logger) log(level LogLevel, message string, err error) {
	if level < l.level {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level.String(),
		Message:   message,
		Fields:    l.fields,
	}

	if err != nil {
		entry.Error = err.Error()
	}

	if l.showCaller {
		entry.Caller = getCaller()
	}

	var line string

	if l.format == "json" {
		data, _ := json.Marshal(entry)
		line = string(data)
	} else {
		line = formatText(entry)
	}

	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	_, _ = fmt.Fprintln(l.out.w, line)
}

func formatText(entry LogEntry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] %s", entry.Timestamp, entry.Level)

	if entry.Caller != "" {
		fmt.Fprintf(&b, " (%s)", entry.Caller)
	}

	b.WriteString(" ")
	b.WriteString(entry.Message)

	if len(entry.Fields) > 0 {
		keys := make([]string, 0, len(entry.Fields))
		for k := range entry.Fields {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%v", k, entry.Fields[k]))
		}

		fmt.Fprintf(&b, " {%s}", strings.Join(pairs, " "))
	}

	if entry.Error != "" {
		b.WriteString(" error=")
		b.WriteString(entry.Error)
	}

	return b.String()
}

func getCaller() string {
	_, file, line, ok := runtime.Caller(callerSkip)
	if !ok {
		return "unknown"
	}

	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func (l *Logger) Debug(message string) { l.log(DebugLevel, message, nil) }
func (l *Logger) Info(message string) { l.log(InfoLevel, message, nil) }
func (l *Logger) Warn(message string) { l.log(WarnLevel, message, nil) }
func (l *Logger) Error(message string) { l.log(ErrorLevel, message, nil) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DebugLevel, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(InfoLevel, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WarnLevel, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ErrorLevel, fmt.Sprintf(format, args...), nil)
}

// ErrorWithErr logs message with err attached in the error slot.
func (l *Logger) ErrorWithErr(message string, err error) {
	l.log(ErrorLevel, message, err)
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.out.closer == nil {
		return nil
	}

	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	return l.out.closer.Close()
}

// GetLogger returns the global logger. It is never nil; before
// InitializeLogger it discards everything below error level.
func GetLogger() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()

	return globalLogger
}

// SetLogger installs logger as the global logger.
func SetLogger(logger *Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// SetupFallbackLogger installs an info-level stderr logger for when
// configuration could not be loaded.
func SetupFallbackLogger() {
	SetLogger(NewWriterLogger(os.Stderr, "info", "text"))
}

func Debug(message string) { GetLogger().Debug(message) }
func Debugf(format string, args ...interface{}) { GetLogger().Debugf(format, args...) }
func Info(message string) { GetLogger().Info(message) }
func Infof(format string, args ...interface{}) { GetLogger().Infof(format, args...) }
func Warn(message string) { GetLogger().Warn(message) }
func Warnf(format string, args ...interface{}) { GetLogger().Warnf(format, args...) }
func Error(message string) { GetLogger().Error(message) }
func Errorf(format string, args ...interface{}) { GetLogger().Errorf(format, args...) }
func ErrorWithErr(message string, err error) { GetLogger().ErrorWithErr(message, err) }
func WithField(key string, value interface{}) *Logger { return GetLogger().WithField(key, value) }
func WithFields(fields map[string]interface{}) *Logger { return GetLogger().WithFields(fields) }
func WithError(err error) *Logger { return GetLogger().WithError(err) }

// LoggerMiddleware runs fn and logs its duration and outcome under the
// given operation name.
func LoggerMiddleware(operation string, fn func() error) error {
	logger := WithField("operation", operation)
	logger.Debug("starting operation")

	start := time.Now()
	err := fn()
	logger = logger.WithField("duration", time.Since(start).Round(time.Millisecond))

	if err != nil {
		logger.ErrorWithErr("operation failed", err)
	} else {
		logger.Debug("operation completed")
	}

	return err
}
