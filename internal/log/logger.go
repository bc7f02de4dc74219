// SPDX-License-Identifier: MIT
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel defines the severity of a log message.
type LogLevel uint32

// Constants for log levels.
const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the LogLevel.
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
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string (case-insensitive) to a LogLevel.
// Returns LevelInfo and false if the string is not recognized.
func ParseLevel(levelStr string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	default:
		return LevelInfo, false
	}
}

// --- Global Logger State ---

var currentLevel atomic.Uint32

// logger is the standard logger instance used internally.
// We configure it to show date, time with microseconds.
var logger = stdlog.New(os.Stderr, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds)

func init() {
	SetLevel(LevelInfo)
}

// SetLevel sets the global logging level atomically.
func SetLevel(level LogLevel) {
	currentLevel.Store(uint32(level))
}

// GetLevel gets the current global logging level atomically.
func GetLevel() LogLevel {
	return LogLevel(currentLevel.Load())
}

// SetOutput redirects all log output. The TUI uses this to keep log lines
// from tearing the alternate screen.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

func shouldLog(level LogLevel) bool {
	return level >= GetLevel()
}

func output(level LogLevel, prefix, msg string) {
	if !shouldLog(level) {
		return
	}
	if prefix != "" {
		msg = prefix + ": " + msg
	}
	logger.Printf("[%-5s] %s", level, msg)
}

// --- Public Logging Functions ---

// Debugf logs a formatted debug message if the level is appropriate.
func Debugf(format string, v ...any) { output(LevelDebug, "", fmt.Sprintf(format, v...)) }

// Infof logs a formatted info message if the level is appropriate.
func Infof(format string, v ...any) { output(LevelInfo, "", fmt.Sprintf(format, v...)) }

// Warnf logs a formatted warning message if the level is appropriate.
func Warnf(format string, v ...any) { output(LevelWarn, "", fmt.Sprintf(format, v...)) }

// Errorf logs a formatted error message if the level is appropriate.
func Errorf(format string, v ...any) { output(LevelError, "", fmt.Sprintf(format, v...)) }

// Fatalf logs a formatted fatal message and exits the application.
// Fatal messages are always logged regardless of the current level.
func Fatalf(format string, v ...any) {
	logger.Fatalf("[%-5s] %s", LevelFatal, fmt.Sprintf(format, v...))
}

// Info logs an info message if the level is appropriate.
func Info(v ...any) { output(LevelInfo, "", fmt.Sprint(v...)) }

// Warn logs a warning message if the level is appropriate.
func Warn(v ...any) { output(LevelWarn, "", fmt.Sprint(v...)) }

// Error logs an error message if the level is appropriate.
func Error(v ...any) { output(LevelError, "", fmt.Sprint(v...)) }

// --- Component loggers ---

// Logger prefixes every message with a component name, e.g.
// "[INFO ] quantizer: New archetype discovered: Ψ-3".
type Logger struct {
	component string
}

// New returns a Logger for the named component.
func New(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) Debugf(format string, v ...any) {
	output(LevelDebug, l.component, fmt.Sprintf(format, v...))
}

func (l *Logger) Infof(format string, v ...any) {
	output(LevelInfo, l.component, fmt.Sprintf(format, v...))
}

func (l *Logger) Warnf(format string, v ...any) {
	output(LevelWarn, l.component, fmt.Sprintf(format, v...))
}

func (l *Logger) Errorf(format string, v ...any) {
	output(LevelError, l.component, fmt.Sprintf(format, v...))
}

// BadgerLogger routes the embedded database's logging through this package.
// Badger is chatty at INFO, so its info lines are demoted to DEBUG.
type BadgerLogger struct {
	l *Logger
}

// Badger returns a logger satisfying badger.Logger.
func Badger() BadgerLogger {
	return BadgerLogger{l: New("badger")}
}

func (b BadgerLogger) Errorf(format string, v ...any) {
	b.l.Errorf(strings.TrimRight(format, "\n"), v...)
}

func (b BadgerLogger) Warningf(format string, v ...any) {
	b.l.Warnf(strings.TrimRight(format, "\n"), v...)
}

func (b BadgerLogger) Infof(format string, v ...any) {
	b.l.Debugf(strings.TrimRight(format, "\n"), v...)
}

func (b BadgerLogger) Debugf(format string, v ...any) {
	b.l.Debugf(strings.TrimRight(format, "\n"), v...)
}
