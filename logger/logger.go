// Package logger provides the structured logging interface used across the
// server, sessions and client, with zerolog-backed implementations, a no-op
// logger for tests and optional daily file rotation for persistent logs.
package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Field represents a key-value pair for structured log output.
// Use Fields with Logger methods to attach contextual data to log entries.
type Field struct {
	Key   string
	Value any
}

// Logger is an interface for structured logging. Implementations write log
// entries at different levels (Debug, Info, Warn, Error) and support
// attaching structured fields. Loggers may be derived with With for
// request-scoped or component-scoped fields.
type Logger interface {
	// Debug logs a message at debug level with optional structured fields.
	//
	// Parameters:
	//   - msg: The log message
	//   - fields: Optional key-value pairs to include in the log entry
	Debug(msg string, fields ...Field)

	// Info logs a message at info level with optional structured fields.
	//
	// Parameters:
	//   - msg: The log message
	//   - fields: Optional key-value pairs to include in the log entry
	Info(msg string, fields ...Field)

	// Warn logs a message at warn level with optional structured fields.
	//
	// Parameters:
	//   - msg: The log message
	//   - fields: Optional key-value pairs to include in the log entry
	Warn(msg string, fields ...Field)

	// Error logs a message at error level with optional structured fields.
	//
	// Parameters:
	//   - msg: The log message
	//   - fields: Optional key-value pairs to include in the log entry
	Error(msg string, fields ...Field)

	// With returns a new Logger that includes the given fields in all
	// subsequent log entries. The original Logger is unchanged.
	//
	// Parameters:
	//   - fields: Key-value pairs to attach to the derived logger
	//
	// Returns:
	//   - A new Logger with the specified fields
	With(fields ...Field) Logger

	// Close releases resources held by the logger (e.g. file handles).
	// It is safe to call multiple times.
	//
	// Returns:
	//   - An error if closing resources fails
	Close() error
}

// zerologLogger is the zerolog-based implementation of Logger.
type zerologLogger struct {
	logger         zerolog.Logger
	fileWriter     *DailyFileWriter
	ownsFileWriter bool
}

// NewZerologLogger builds a Logger that wraps the given zerolog.Logger,
// adding a service name and timestamp to all entries and filtering by level.
// Output goes only to the provided logger (e.g. stdout); no file is created.
//
// Parameters:
//   - l: The zerolog.Logger to wrap
//   - serviceName: Name of the service, added as a field to every log entry
//   - level: Minimum level to log (e.g. zerolog.InfoLevel)
//
// Returns:
//   - A Logger that writes through the given zerolog instance
func NewZerologLogger(l zerolog.Logger, serviceName string, level zerolog.Level) Logger {
	return &zerologLogger{
		logger:         l.With().Str("service", serviceName).Timestamp().Logger().Level(level),
		ownsFileWriter: false,
	}
}

// NewZerologFileLogger creates a Logger that writes to stdout and to a
// daily-rotated file {serviceName}_{date}.log in logDir.
//
// Parameters:
//   - serviceName: Name of the service, used in log entries and file names
//   - logDir: Directory for log files; created if it does not exist
//   - level: Minimum level to log (e.g. zerolog.InfoLevel)
//
// Returns:
//   - A Logger that writes to stdout and rotating files
//   - An error if the directory or the first file cannot be created
func NewZerologFileLogger(serviceName string, logDir string, level zerolog.Level) (Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	fileWriter, err := NewDailyFileWriter(serviceName, logDir)
	if err != nil {
		return nil, err
	}

	multi := io.MultiWriter(os.Stdout, fileWriter)
	return &zerologLogger{
		logger:         zerolog.New(multi).With().Str("service", serviceName).Timestamp().Logger().Level(level),
		fileWriter:     fileWriter,
		ownsFileWriter: true,
	}, nil
}

// NewNopLogger returns a Logger that discards every entry. Useful in tests and
// for components constructed without a logger.
func NewNopLogger() Logger {
	return &zerologLogger{logger: zerolog.Nop()}
}

// NewConsoleLogger builds a human-readable Logger writing to stderr through
// zerolog's ConsoleWriter. Intended for interactive CLI commands.
//
// Parameters:
//   - serviceName: Name of the service, added as a field to every log entry
//   - level: Minimum level to log
//
// Returns:
//   - A Logger writing colourised lines to stderr
func NewConsoleLogger(serviceName string, level zerolog.Level) Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return NewZerologLogger(zerolog.New(out), serviceName, level)
}

// ParseLevel converts a level name such as "debug" or "WARN" into a zerolog
// level. An empty name maps to info.
//
// Parameters:
//   - name: The level name, case-insensitive
//
// Returns:
//   - The parsed level
//   - An error if the name is not a known level
func ParseLevel(name string) (zerolog.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return zerolog.InfoLevel, nil
	}

	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q: %w", name, err)
	}

	return level, nil
}

// Err is shorthand for the error field attached to failure entries.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Debug implements Logger.
func (z *zerologLogger) Debug(msg string, fields ...Field) {
	z.logger.Debug().Fields(toMap(fields)).Msg(msg)
}

// Info implements Logger.
func (z *zerologLogger) Info(msg string, fields ...Field) {
	z.logger.Info().Fields(toMap(fields)).Msg(msg)
}

// Warn implements Logger.
func (z *zerologLogger) Warn(msg string, fields ...Field) {
	z.logger.Warn().Fields(toMap(fields)).Msg(msg)
}

// Error implements Logger.
func (z *zerologLogger) Error(msg string, fields ...Field) {
	z.logger.Error().Fields(toMap(fields)).Msg(msg)
}

// With implements Logger.
func (z *zerologLogger) With(fields ...Field) Logger {
	return &zerologLogger{
		logger:         z.logger.With().Fields(toMap(fields)).Logger(),
		fileWriter:     z.fileWriter,
		ownsFileWriter: false,
	}
}

// toMap converts a slice of Field into a map for zerolog.
func toMap(fields []Field) map[string]any {
	if len(fields) == 0 {
		return nil
	}

	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}

	return m
}

// Close implements Logger.
func (z *zerologLogger) Close() error {
	if z.fileWriter != nil && z.ownsFileWriter {
		return z.fileWriter.Close()
	}

	return nil
}

// ErrWriterClosed is returned by writes after Close.
var ErrWriterClosed = errors.New("logger: file writer closed")

// DailyFileWriter is an io.Writer appending to {service}_{date}.log. The first
// write on a new day closes the old file and opens the next one. Safe for
// concurrent use.
type DailyFileWriter struct {
	service string
	dir     string
	now     func() time.Time

	mu     sync.Mutex
	file   *os.File
	date   string
	closed bool
}

// NewDailyFileWriter opens today's file in logDir, which must exist.
//
// Parameters:
//   - service: Service name used in log file names
//   - logDir: Directory path for log files
//
// Returns:
//   - The writer, or an error if the file could not be opened
func NewDailyFileWriter(service string, logDir string) (*DailyFileWriter, error) {
	w := &DailyFileWriter{service: service, dir: logDir, now: time.Now}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.openLocked(w.now().Format(time.DateOnly)); err != nil {
		return nil, err
	}

	return w, nil
}

// Write appends p to the current day's file.
func (w *DailyFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrWriterClosed
	}

	if date := w.now().Format(time.DateOnly); date != w.date || w.file == nil {
		if err := w.openLocked(date); err != nil {
			return 0, err
		}
	}

	return w.file.Write(p)
}

// Close closes the current file. Later writes fail with ErrWriterClosed.
func (w *DailyFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.file == nil {
		return nil
	}

	err := w.file.Close()
	w.file = nil
	return err
}

// CurrentLogFile returns the path being written to, or "" once closed.
func (w *DailyFileWriter) CurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ""
	}

	return w.path(w.date)
}

func (w *DailyFileWriter) path(date string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%s.log", w.service, date))
}

// openLocked switches to the file for date; w.mu must be held.
func (w *DailyFileWriter) openLocked(date string) error {
	file, err := os.OpenFile(w.path(date), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	if w.file != nil {
		_ = w.file.Close()
	}

	w.file = file
	w.date = date
	return nil
}
