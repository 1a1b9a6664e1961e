package util

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel represents logging severity levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// Logger writes leveled, timestamped lines. Output goes to stderr so that
// stdout stays reserved for command results.
type Logger struct {
	mu     sync.Mutex
	level  LogLevel
	logger *log.Logger
	file   *os.File
	now    func() time.Time
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
)

// GetLogger returns the default logger, creating an info level stderr
// logger on first use.
func GetLogger() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(LevelInfo, "")
	}
	return defaultLogger
}

// NewLogger creates a logger with the given level. A non-empty filePath
// also appends every line to that file.
func NewLogger(level LogLevel, filePath string) *Logger {
	l := &Logger{level: level, now: time.Now}

	writers := []io.Writer{os.Stderr}
	if filePath != "" {
		if err := EnsureDir(filepath.Dir(filePath)); err == nil {
			// #nosec G304 -- log path comes from operator configuration.
			file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				l.file = file
				writers = append(writers, file)
			}
		}
	}
	l.logger = log.New(io.MultiWriter(writers...), "", 0)
	return l
}

// NewWriterLogger creates a logger that writes only to w.
func NewWriterLogger(level LogLevel, w io.Writer) *Logger {
	return &Logger{level: level, logger: log.New(w, "", 0), now: time.Now}
}

// SetLevel sets the logging level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// ParseLevel parses a string log level. Unknown values fall back to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Close closes the log file if open.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	timestamp := l.now().Format("2006-01-02 15:04:05")
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] %s: %s", timestamp, level, msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Debug logs a debug message using the default logger.
func Debug(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

// Info logs an info message using the default logger.
func Info(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

// Warn logs a warning message using the default logger.
func Warn(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

// Error logs an error message using the default logger.
func Error(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}

// InitLogger replaces the default logger using the configured level and
// optional log file. The previous logger's file, if any, is closed.
func InitLogger(level string, filePath string) {
	SetDefaultLogger(NewLogger(ParseLevel(level), filePath))
}

// SetDefaultLogger installs l as the default logger.
func SetDefaultLogger(l *Logger) {
	defaultMu.Lock()
	previous := defaultLogger
	defaultLogger = l
	defaultMu.Unlock()
	if previous != nil && previous != l {
		_ = previous.Close()
	}
}
