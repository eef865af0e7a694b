package debuglog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff // Disables all logging
)

// String returns the string representation of the log level
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
	case LevelOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) logrusLevel() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	case LevelOff:
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLogLevel parses a string into a LogLevel
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "OFF":
		return LevelOff
	default:
		return LevelInfo
	}
}

var (
	mu           sync.Mutex
	currentLevel = LevelOff
	logger       = newLogger()
	logFile      *os.File
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	l.SetLevel(LevelOff.logrusLevel())
	return l
}

// Setup configures the logging system with the specified level and optional file path.
// If filePath is empty, defaults to ~/.pollsync/pollsync.log; "-" writes to stderr.
func Setup(level LogLevel, filePath ...string) error {
	mu.Lock()
	defer mu.Unlock()

	closeFile()
	currentLevel = level
	logger.SetLevel(level.logrusLevel())

	if level == LevelOff {
		logger.SetOutput(io.Discard)
		return nil
	}

	var logPath string
	if len(filePath) > 0 && filePath[0] != "" {
		logPath = filePath[0]
	} else {
		home, _ := os.UserHomeDir()
		dir := filepath.Join(home, ".pollsync")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		logPath = filepath.Join(dir, "pollsync.log")
	}

	if logPath == "-" {
		logger.SetOutput(os.Stderr)
		return nil
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.SetOutput(io.Discard)
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	logFile = f
	logger.SetOutput(f)
	return nil
}

// SetLevel changes the current logging level
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
	logger.SetLevel(level.logrusLevel())
}

// GetLevel returns the current logging level
func GetLevel() LogLevel {
	mu.Lock()
	defer mu.Unlock()
	return currentLevel
}

// Close closes the log file if open
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(io.Discard)
	return closeFile()
}

func closeFile() error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// Module returns an entry tagged with the component name. Entries follow
// later Setup calls since they share the package logger.
func Module(name string) *logrus.Entry {
	return logger.WithField("module", "pollsync."+name)
}

func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
}

func Infof(format string, args ...any) {
	logger.Infof(format, args...)
}

func Warnf(format string, args ...any) {
	logger.Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	logger.Errorf(format, args...)
}

// FieldLogger attaches key-value fields to every message.
type FieldLogger struct {
	entry *logrus.Entry
}

// WithFields returns a new logger with the specified fields
func WithFields(fields map[string]any) *FieldLogger {
	return &FieldLogger{entry: logger.WithFields(logrus.Fields(fields))}
}

func (fl *FieldLogger) Debugf(format string, args ...any) {
	fl.entry.Debugf(format, args...)
}

func (fl *FieldLogger) Infof(format string, args ...any) {
	fl.entry.Infof(format, args...)
}

func (fl *FieldLogger) Warnf(format string, args ...any) {
	fl.entry.Warnf(format, args...)
}

func (fl *FieldLogger) Errorf(format string, args ...any) {
	fl.entry.Errorf(format, args...)
}
