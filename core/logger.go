package core

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Logger interface for structured logging
// Implementations can provide custom logging behavior (e.g., integration with zerolog, logiface, etc.)
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Warn logs a warning message with optional fields
	Warn(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// F creates a new Field with the given key and value
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// ZerologLogger writes through a zerolog.Logger.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewDefaultLogger creates a logger writing timestamped JSON lines to stderr.
func NewDefaultLogger() *ZerologLogger {
	return NewWriterLogger(os.Stderr)
}

// NewWriterLogger creates a zerolog-backed logger writing to w.
func NewWriterLogger(w io.Writer) *ZerologLogger {
	return NewZerologLogger(zerolog.New(w).With().Timestamp().Logger())
}

// NewZerologLogger wraps an existing zerolog.Logger.
func NewZerologLogger(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger}
}

func (l *ZerologLogger) Debug(msg string, fields ...Field) { l.write(l.logger.Debug(), msg, fields) }
func (l *ZerologLogger) Info(msg string, fields ...Field)  { l.write(l.logger.Info(), msg, fields) }
func (l *ZerologLogger) Warn(msg string, fields ...Field)  { l.write(l.logger.Warn(), msg, fields) }
func (l *ZerologLogger) Error(msg string, fields ...Field) { l.write(l.logger.Error(), msg, fields) }

func (l *ZerologLogger) write(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			e = e.AnErr(f.Key, err)
			continue
		}
		e = e.Interface(f.Key, f.Value)
	}
	e.Msg(msg)
}

// LogifaceLogger adapts a logiface logger.
type LogifaceLogger struct {
	logger *logiface.Logger[logiface.Event]
}

// NewLogifaceLogger wraps a logiface logger. Use Logger() on a typed
// logiface logger to obtain the generic form.
func NewLogifaceLogger(logger *logiface.Logger[logiface.Event]) *LogifaceLogger {
	return &LogifaceLogger{logger: logger}
}

func (l *LogifaceLogger) Debug(msg string, fields ...Field) { l.write(l.logger.Debug(), msg, fields) }
func (l *LogifaceLogger) Info(msg string, fields ...Field)  { l.write(l.logger.Info(), msg, fields) }
func (l *LogifaceLogger) Warn(msg string, fields ...Field)  { l.write(l.logger.Warning(), msg, fields) }
func (l *LogifaceLogger) Error(msg string, fields ...Field) { l.write(l.logger.Err(), msg, fields) }

func (l *LogifaceLogger) write(b *logiface.Builder[logiface.Event], msg string, fields []Field) {
	if b == nil {
		return
	}
	for _, f := range fields {
		b = b.Interface(f.Key, f.Value)
	}
	b.Log(msg)
}

// NoOpLogger is a logger that discards all log messages
// Useful for tests or when logging is not desired
type NoOpLogger struct{}

// NewNoOpLogger creates a new NoOpLogger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(msg string, fields ...Field) {}
func (l *NoOpLogger) Info(msg string, fields ...Field)  {}
func (l *NoOpLogger) Warn(msg string, fields ...Field)  {}
func (l *NoOpLogger) Error(msg string, fields ...Field) {}
