// Package logging provides config-driven categorized file-based logging
// for circuitshell. Logs are written to <stateDir>/logs/ with separate
// files per category. Logging is controlled by the logging section of
// the circuitshell config - when debug mode is off, no logs are written.
//
// The worker process does not use this package; it logs structured
// events to stderr via zap so its output never interleaves with the
// protocol stream on stdout.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup/initialization
	CategorySession    Category = "session"    // Session FSM, control signals
	CategoryChannel    Category = "channel"    // Envelope traffic, correlation, sweeps
	CategoryWorker     Category = "worker"     // Worker lifecycle as seen by the host
	CategoryHardware   Category = "hardware"   // Simulation state changes
	CategoryCompletion Category = "completion" // Completion bridge requests
	CategoryConfig     Category = "config"     // Config load, profile reloads
	CategoryHistory    Category = "history"    // History store operations
)

// Config controls the logging subsystem. It mirrors the logging section
// of the circuitshell config file to avoid a circular import.
type Config struct {
	DebugMode  bool
	Categories map[string]bool
	Level      string // debug|info|warn|error
}

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Logger wraps a standard logger with a category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	cfg       Config
	cfgMu     sync.RWMutex
	logLevel  int
)

// Initialize sets up the logging directory with the given config.
// Should be called once at startup with the state directory path
// (typically ~/.circuitshell). A no-op when debug mode is off.
func Initialize(stateDir string, c Config) error {
	if stateDir == "" {
		return fmt.Errorf("state directory required")
	}

	cfgMu.Lock()
	cfg = c
	switch c.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	cfgMu.Unlock()

	if !c.DebugMode {
		return nil
	}

	logsDir = filepath.Join(stateDir, "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== circuitshell logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", c.Level)

	return nil
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	cfgMu.RLock()
	defer cfgMu.RUnlock()

	if !cfg.DebugMode {
		return false
	}
	if cfg.Categories == nil {
		return true
	}
	enabled, exists := cfg.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) || logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation trivial.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Close flushes and closes all open log files.
func Close() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for cat, l := range loggers {
		if l.file != nil {
			_ = l.file.Close()
		}
		delete(loggers, cat)
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// Convenience helpers for the hottest categories.

// Session logs an info message to the session category.
func Session(format string, args ...interface{}) {
	Get(CategorySession).Info(format, args...)
}

// SessionDebug logs a debug message to the session category.
func SessionDebug(format string, args ...interface{}) {
	Get(CategorySession).Debug(format, args...)
}

// Channel logs an info message to the channel category.
func Channel(format string, args ...interface{}) {
	Get(CategoryChannel).Info(format, args...)
}

// ChannelDebug logs a debug message to the channel category.
func ChannelDebug(format string, args ...interface{}) {
	Get(CategoryChannel).Debug(format, args...)
}
