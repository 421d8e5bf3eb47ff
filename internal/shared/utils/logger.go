package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logDirEnvVar   = "TASKHISTORY_LOG_DIR"
	logLevelEnvVar = "TASKHISTORY_LOG_LEVEL"
	logFileName    = "taskhistory-service.log"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	loggerInstance *Logger
	loggerOnce     sync.Once
	logDirOverride string
)

// Logger writes component-tagged lines to taskhistory-service.log.
type Logger struct {
	out       *sharedOutput
	level     LogLevel
	component string
	logID     string
}

// sharedOutput is the single rotating file every component logger writes to.
type sharedOutput struct {
	mu     sync.Mutex
	writer io.WriteCloser
	logger *log.Logger
}

// SetLogDirectory overrides the log directory before the first logger is created.
func SetLogDirectory(dir string) {
	logDirOverride = strings.TrimSpace(dir)
}

// GetLogger returns the singleton logger instance
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		loggerInstance = newLogger(levelFromEnv())
	})
	return loggerInstance
}

// NewComponentLogger creates a logger for a specific component
func NewComponentLogger(component string) *Logger {
	base := GetLogger()
	return &Logger{
		out:       base.out,
		level:     base.level,
		component: component,
	}
}

func newLogger(level LogLevel) *Logger {
	l := &Logger{level: level, out: &sharedOutput{}}

	logDir, err := resolveLogDirectory()
	if err != nil {
		log.Printf("Failed to resolve log directory: %v", err)
		return l
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Printf("Failed to create log directory %s: %v", logDir, err)
		return l
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, logFileName),
		MaxSize:    20, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	l.out.writer = rotator
	l.out.logger = log.New(rotator, "", 0)
	return l
}

func resolveLogDirectory() (string, error) {
	if logDirOverride != "" {
		return logDirOverride, nil
	}
	if override := strings.TrimSpace(os.Getenv(logDirEnvVar)); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".taskhistory", "logs"), nil
}

func levelFromEnv() LogLevel {
	switch strings.ToUpper(strings.TrimSpace(os.Getenv(logLevelEnvVar))) {
	case "INFO":
		return INFO
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return DEBUG
	}
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
}

// Close closes the log file
func (l *Logger) Close() error {
	if l.out == nil || l.out.writer == nil {
		return nil
	}
	return l.out.writer.Close()
}

// WithLogID returns a shallow copy of the logger that tags log lines with a log id.
func (l *Logger) WithLogID(logID string) *Logger {
	if l == nil {
		return nil
	}
	if strings.TrimSpace(logID) == "" {
		return l
	}
	return &Logger{
		out:       l.out,
		level:     l.level,
		component: l.component,
		logID:     logID,
	}
}

// log is the internal logging function
func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if level < l.level || l.out == nil || l.out.logger == nil {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	// Format: 2025-09-30 12:34:56 [INFO] [ComponentName] file.go:123 - Message
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	component := l.component
	if component == "" {
		component = "TASKHISTORY"
	}
	message := fmt.Sprintf(format, args...)

	var logLine string
	if logID := strings.TrimSpace(l.logID); logID != "" {
		logLine = fmt.Sprintf("%s [%s] [%s] [log_id=%s] %s:%d - %s\n",
			timestamp, levelToString(level), component, logID, file, line, message)
	} else {
		logLine = fmt.Sprintf("%s [%s] [%s] %s:%d - %s\n",
			timestamp, levelToString(level), component, file, line, message)
	}

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.logger.Print(logLine)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// levelToString converts LogLevel to string
func levelToString(level LogLevel) string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
