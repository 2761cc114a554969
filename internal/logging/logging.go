package logging

import (
	"go.uber.org/zap"
)

// Logger is a structured logger with key/value arguments.
type Logger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a new Logger. Development output is human readable and
// includes debug messages; otherwise JSON at info level.
func NewLogger(development bool) (*Logger, error) {
	var (
		base *zap.Logger
		err  error
	)
	if development {
		base, err = zap.NewDevelopment()
	} else {
		base, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return New(base), nil
}

// New wraps an existing zap logger.
func New(base *zap.Logger) *Logger {
	return &Logger{sugar: base.Sugar()}
}

// Zap returns the underlying logger for components that use typed fields.
func (l *Logger) Zap() *zap.Logger {
	return l.sugar.Desugar()
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

// Warn logs a warning.
func (l *Logger) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
