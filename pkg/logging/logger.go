// Package logging provides scoped loggers for the synchronization engine.
// Each scope (typically one conversation) gets its own log file stored in the
// application's config directory, with a shared console sink for development.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog logger bound to one scope and its log file.
type Logger struct {
	scope   string
	logFile *os.File
	zl      zerolog.Logger
	mu      sync.Mutex
}

var (
	loggers   = make(map[string]*Logger)
	loggersMu sync.RWMutex
)

// GetLogger returns a logger instance for a specific scope.
// If the logger doesn't exist, it creates a new one.
func GetLogger(scope string) (*Logger, error) {
	loggersMu.RLock()
	if l, exists := loggers[scope]; exists {
		loggersMu.RUnlock()
		return l, nil
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, exists := loggers[scope]; exists {
		return l, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	logDir := filepath.Join(configDir, "Parley", "logs")
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFilePath := filepath.Join(logDir, scope+".log")
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	sink := io.MultiWriter(logFile, zerolog.ConsoleWriter{Out: os.Stderr})
	zl := zerolog.New(sink).With().Timestamp().Str("scope", scope).Logger()

	l := &Logger{scope: scope, logFile: logFile, zl: zl}
	loggers[scope] = l
	return l, nil
}

// Nop returns a logger that discards everything. Useful as a default when the
// caller did not supply one.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Debugf logs a debug-level message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

// Infof logs an info-level message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

// Warnf logs a warning-level message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}

// With returns a zerolog logger carrying an extra key for structured fields.
func (l *Logger) With(key, value string) zerolog.Logger {
	return l.zl.With().Str(key, value).Logger()
}

// Close closes the log file and removes the logger from the registry.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		err := l.logFile.Close()
		l.logFile = nil

		loggersMu.Lock()
		delete(loggers, l.scope)
		loggersMu.Unlock()

		return err
	}
	return nil
}

// CloseAll closes all open loggers.
func CloseAll() {
	loggersMu.Lock()
	open := make([]*Logger, 0, len(loggers))
	for _, l := range loggers {
		open = append(open, l)
	}
	loggers = make(map[string]*Logger)
	loggersMu.Unlock()

	for _, l := range open {
		l.mu.Lock()
		if l.logFile != nil {
			_ = l.logFile.Close()
			l.logFile = nil
		}
		l.mu.Unlock()
	}
}
