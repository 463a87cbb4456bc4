package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mrz1836/brcwallet/internal/fileutil"
)

// LogLevel represents logging verbosity levels.
type LogLevel int

// Log level constants.
const (
	LogLevelOff LogLevel = iota
	LogLevelError
	LogLevelDebug
)

// ParseLogLevel parses a log level string.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none":
		return LogLevelOff
	case "error":
		return LogLevelError
	case "debug":
		return LogLevelDebug
	default:
		return LogLevelError
	}
}

// String returns the string representation of a log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelOff:
		return "off"
	case LogLevelError:
		return "error"
	case LogLevelDebug:
		return "debug"
	default:
		return "error"
	}
}

func (l LogLevel) logrus() logrus.Level {
	switch l {
	case LogLevelDebug:
		return logrus.DebugLevel
	case LogLevelOff:
		return logrus.PanicLevel
	default:
		return logrus.ErrorLevel
	}
}

// Logger writes leveled text logs through logrus. It satisfies the
// LogWriter interfaces of the wallet packages.
type Logger struct {
	mu    sync.Mutex
	level LogLevel
	entry *logrus.Logger
	file  *os.File
}

// NewLogger creates a logger writing to filePath. An empty path or the off
// level discards everything.
func NewLogger(level LogLevel, filePath string) (*Logger, error) {
	lg := logrus.New()
	lg.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	lg.SetLevel(level.logrus())
	lg.SetOutput(io.Discard)

	logger := &Logger{level: level, entry: lg}
	if level == LogLevelOff || filePath == "" {
		return logger, nil
	}

	filePath = ExpandHome(filePath)
	if err := fileutil.EnsureDir(filepath.Dir(filePath)); err != nil {
		return nil, err
	}

	// #nosec G304 -- log file path is from validated config
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	logger.file = f
	lg.SetOutput(f)
	return logger, nil
}

// NewWriterLogger logs to w, for the serve command's stderr output.
func NewWriterLogger(level LogLevel, w io.Writer) *Logger {
	logger, _ := NewLogger(level, "")
	if level != LogLevelOff {
		logger.entry.SetOutput(w)
	}
	return logger
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entry.SetOutput(io.Discard)
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// SetLevel changes the log level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.entry.SetLevel(level.logrus())
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) {
	if l.Level() < LogLevelDebug {
		return
	}
	l.entry.Debugf(format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	if l.Level() < LogLevelError {
		return
	}
	l.entry.Errorf(format, args...)
}

// WithField returns a logrus entry carrying one structured field, for
// callers that log request-scoped data such as the originator.
func (l *Logger) WithField(key string, value any) *logrus.Entry {
	return l.entry.WithField(key, value)
}

// Badger returns a logger for the storage engine. Badger's info and warning
// chatter is only emitted at debug level.
func (l *Logger) Badger() *BadgerLogger {
	return &BadgerLogger{l: l}
}

// BadgerLogger adapts Logger to badger.Logger.
type BadgerLogger struct {
	l *Logger
}

// Errorf implements badger.Logger.
func (b *BadgerLogger) Errorf(format string, args ...any) {
	b.l.Error("badger: "+strings.TrimSpace(format), args...)
}

// Warningf implements badger.Logger.
func (b *BadgerLogger) Warningf(format string, args ...any) {
	b.l.Debug("badger: "+strings.TrimSpace(format), args...)
}

// Infof implements badger.Logger.
func (b *BadgerLogger) Infof(format string, args ...any) {
	b.l.Debug("badger: "+strings.TrimSpace(format), args...)
}

// Debugf implements badger.Logger.
func (b *BadgerLogger) Debugf(string, ...any) {}

// NullLogger returns a logger that discards all output.
func NullLogger() *Logger {
	logger, _ := NewLogger(LogLevelOff, "")
	return logger
}
