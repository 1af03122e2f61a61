// jsonlog.go - Structured JSON logging for production environments
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Logger provides structured JSON logging
type Logger struct {
	output     io.Writer
	minLevel   LogLevel
	enableJSON bool
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Level   LogLevel       `json:"level"`
	Time    string         `json:"time"`
	Message string         `json:"msg"`
	Fields  map[string]any `json:"fields,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// DefaultLogger is the global logger instance
var DefaultLogger *Logger

func init() {
	enableJSON := os.Getenv("FP_LOG_FORMAT") == "json"
	if os.Getenv("FP_ENV") == "production" {
		enableJSON = true
	}

	DefaultLogger = &Logger{
		output:     os.Stdout,
		minLevel:   getLogLevel(),
		enableJSON: enableJSON,
	}
}

// getLogLevel returns the configured log level from environment
func getLogLevel() LogLevel {
	switch os.Getenv("FP_LOG_LEVEL") {
	case "debug":
		return LogLevelDebug
	case "warn":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

var levelRank = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
}

func (l *Logger) shouldLog(level LogLevel) bool {
	return levelRank[level] >= levelRank[l.minLevel]
}

// log writes a log entry
func (l *Logger) log(level LogLevel, msg string, fields map[string]any, err error) {
	if !l.shouldLog(level) {
		return
	}

	entry := LogEntry{
		Level:   level,
		Time:    time.Now().UTC().Format(time.RFC3339),
		Message: msg,
		Fields:  fields,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	if l.enableJSON {
		data, _ := json.Marshal(entry)
		fmt.Fprintln(l.output, string(data))
		return
	}

	// Plain text format for development
	fmt.Fprintf(l.output, "[%s] %s %s", entry.Level, entry.Time, entry.Message)
	for k, v := range entry.Fields {
		fmt.Fprintf(l.output, " %s=%v", k, v)
	}
	if entry.Error != "" {
		fmt.Fprintf(l.output, " error=%s", entry.Error)
	}
	fmt.Fprintln(l.output)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields map[string]any) {
	l.log(LogLevelDebug, msg, fields, nil)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields map[string]any) {
	l.log(LogLevelInfo, msg, fields, nil)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields map[string]any) {
	l.log(LogLevelWarn, msg, fields, nil)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields map[string]any, err error) {
	l.log(LogLevelError, msg, fields, err)
}

// Global logging functions

// Debug logs a debug message
func Debug(msg string, fields map[string]any) {
	DefaultLogger.Debug(msg, fields)
}

// Info logs an info message
func Info(msg string, fields map[string]any) {
	DefaultLogger.Info(msg, fields)
}

// Warn logs a warning message
func Warn(msg string, fields map[string]any) {
	DefaultLogger.Warn(msg, fields)
}

// Error logs an error message
func Error(msg string, fields map[string]any, err error) {
	DefaultLogger.Error(msg, fields, err)
}
