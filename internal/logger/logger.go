// Package logger provides structured logging for the document translation
// pipeline. Log entries carry typed key-value fields and are written to a
// rotating file, optionally mirrored to the console.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level.
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
		return "UNKNOWN"
	}
}

// Field is a typed key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int creates an integer field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 creates an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Float64 creates a float64 field.
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

// Bool creates a boolean field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Duration creates a duration field rendered in time.Duration notation.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Err creates an error field.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Any creates a field with an arbitrary value.
func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Logger is the logging interface used throughout the pipeline.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	SetLevel(level Level)
	Close() error
}

// Config holds logger configuration.
type Config struct {
	// LogFilePath is the log file location. Empty disables file output.
	LogFilePath string
	// MaxFileSize is the rotation threshold in bytes.
	MaxFileSize int64
	// MaxBackups is the number of rotated files to keep.
	MaxBackups int
	Level      Level
	// EnableConsole mirrors entries to stderr.
	EnableConsole bool
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() *Config {
	return &Config{
		LogFilePath:   "doc-translator.log",
		MaxFileSize:   10 * 1024 * 1024,
		MaxBackups:    5,
		Level:         LevelInfo,
		EnableConsole: false,
	}
}

// fileLogger is the default Logger implementation.
type fileLogger struct {
	mu      sync.Mutex
	cfg     *Config
	file    *os.File
	size    int64
	level   Level
	console io.Writer
}

// New creates a Logger from the given configuration.
func New(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	l := &fileLogger{cfg: cfg, level: cfg.Level}
	if cfg.EnableConsole {
		l.console = os.Stderr
	}
	if cfg.LogFilePath != "" {
		if dir := filepath.Dir(cfg.LogFilePath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		if err := l.open(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *fileLogger) open() error {
	f, err := os.OpenFile(l.cfg.LogFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	l.file = f
	l.size = info.Size()
	return nil
}

func (l *fileLogger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, nil, fields) }
func (l *fileLogger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, nil, fields) }
func (l *fileLogger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, nil, fields) }
func (l *fileLogger) Error(msg string, err error, fields ...Field) {
	l.log(LevelError, msg, err, fields)
}

func (l *fileLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *fileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func (l *fileLogger) log(level Level, msg string, err error, fields []Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	entry := formatEntry(level, msg, err, fields)

	if l.file != nil {
		if l.size+int64(len(entry)) > l.cfg.MaxFileSize {
			l.rotate()
		}
		n, _ := l.file.WriteString(entry)
		l.size += int64(n)
	}
	if l.console != nil {
		io.WriteString(l.console, entry)
	}
}

func formatEntry(level Level, msg string, err error, fields []Field) string {
	var sb strings.Builder
	sb.WriteString(time.Now().Format("2006-01-02 15:04:05.000"))
	sb.WriteString(" [")
	sb.WriteString(level.String())
	sb.WriteString("] ")
	sb.WriteString(msg)

	if err != nil {
		fmt.Fprintf(&sb, " error=%q", err.Error())
	}
	for _, f := range fields {
		fmt.Fprintf(&sb, " %s=%v", f.Key, f.Value)
	}
	if level == LevelError {
		// Record the call site so failures can be traced without a
		// full stack dump in the log file.
		if file, line, ok := callSite(); ok {
			fmt.Fprintf(&sb, " at=%s:%d", file, line)
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

// callSite walks up past the logger frames to the first caller outside this
// package.
func callSite() (string, int, bool) {
	for i := 3; i < 10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			return "", 0, false
		}
		fn := runtime.FuncForPC(pc)
		if fn != nil && strings.Contains(fn.Name(), "/internal/logger.") {
			continue
		}
		return filepath.Base(file), line, true
	}
	return "", 0, false
}

// rotate shifts backup files up by one index and starts a fresh log file.
// Callers hold l.mu.
func (l *fileLogger) rotate() {
	if l.file != nil {
		l.file.Close()
	}
	for i := l.cfg.MaxBackups - 1; i >= 1; i-- {
		os.Rename(
			fmt.Sprintf("%s.%d", l.cfg.LogFilePath, i),
			fmt.Sprintf("%s.%d", l.cfg.LogFilePath, i+1),
		)
	}
	if _, err := os.Stat(l.cfg.LogFilePath); err == nil {
		os.Rename(l.cfg.LogFilePath, l.cfg.LogFilePath+".1")
	}
	os.Remove(fmt.Sprintf("%s.%d", l.cfg.LogFilePath, l.cfg.MaxBackups+1))
	l.open()
}

// Global logger instance.
var (
	globalMu     sync.RWMutex
	globalLogger Logger
)

// Init initializes the global logger.
func Init(cfg *Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger != nil {
		globalLogger.Close()
	}
	globalLogger = l
	return nil
}

// GetLogger returns the global logger, or a no-op logger before Init.
func GetLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		return noop{}
	}
	return globalLogger
}

// SetGlobalLogger replaces the global logger instance.
func SetGlobalLogger(l Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Close closes the global logger.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger != nil {
		err := globalLogger.Close()
		globalLogger = nil
		return err
	}
	return nil
}

// Package-level convenience functions delegating to the global logger.

func Debug(msg string, fields ...Field)            { GetLogger().Debug(msg, fields...) }
func Info(msg string, fields ...Field)             { GetLogger().Info(msg, fields...) }
func Warn(msg string, fields ...Field)             { GetLogger().Warn(msg, fields...) }
func Error(msg string, err error, fields ...Field) { GetLogger().Error(msg, err, fields...) }

type noop struct{}

func (noop) Debug(string, ...Field)        {}
func (noop) Info(string, ...Field)         {}
func (noop) Warn(string, ...Field)         {}
func (noop) Error(string, error, ...Field) {}
func (noop) SetLevel(Level)                {}
func (noop) Close() error                  { return nil }
