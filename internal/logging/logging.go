package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

// String returns the lowercase name of the level.
func (l LogLevel) String() string {
	if l < LevelDebug || l > LevelError {
		return fmt.Sprintf("unknown(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel converts a level name to a LogLevel. The second return value
// reports whether the name was recognized; unrecognized names map to info.
func ParseLevel(s string) (LogLevel, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	}
	return LevelInfo, false
}

// envLevel resolves the level from the environment exactly once. DEBUG set
// truthy wins over LOG_LEVEL; neither set means info.
var envLevel = sync.OnceValue(func() LogLevel {
	switch strings.ToLower(os.Getenv("DEBUG")) {
	case "1", "true", "yes", "on":
		return LevelDebug
	}
	level, _ := ParseLevel(os.Getenv("LOG_LEVEL"))
	return level
})

// override holds a programmatic level as LogLevel+1, so the zero value
// means "defer to the environment".
var override atomic.Int32

// GetLevel returns the level currently in effect.
func GetLevel() LogLevel {
	if v := override.Load(); v != 0 {
		return LogLevel(v - 1)
	}
	return envLevel()
}

// SetLevel overrides the level regardless of environment configuration.
// Used by tools that take a verbosity flag.
func SetLevel(level LogLevel) {
	override.Store(int32(level) + 1)
}

// IsDebugEnabled reports whether Debug calls will emit. Callers use it to
// skip building expensive debug output.
func IsDebugEnabled() bool {
	return GetLevel() <= LevelDebug
}

var levelTags = [...]string{"[DEBUG] ", "[INFO] ", "[WARN] ", "[ERROR] "}

func logf(level LogLevel, format string, args ...interface{}) {
	if level < GetLevel() {
		return
	}
	log.Printf(levelTags[level]+format, args...)
}

// Debug logs a debug message (only with DEBUG set or LOG_LEVEL=debug).
func Debug(format string, args ...interface{}) { logf(LevelDebug, format, args...) }

// Info logs an info message.
func Info(format string, args ...interface{}) { logf(LevelInfo, format, args...) }

// Warn logs a warning message.
func Warn(format string, args ...interface{}) { logf(LevelWarn, format, args...) }

// Error logs an error message.
func Error(format string, args ...interface{}) { logf(LevelError, format, args...) }

// Fatal logs an error message and exits.
func Fatal(format string, args ...interface{}) {
	log.Fatalf("[FATAL] "+format, args...)
}
