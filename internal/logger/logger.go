package logger

import (
	"log"
	"strings"
	"sync/atomic"
)

// Level controls which messages are emitted.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var current atomic.Int32

func init() {
	current.Store(int32(LevelInfo))
}

// Parse converts a level name to a Level. Unknown names map to info.
func Parse(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetLevel sets the minimum level that will be logged.
func SetLevel(l Level) {
	current.Store(int32(l))
}

func enabled(l Level) bool {
	return int32(l) >= current.Load()
}

// Debugf logs at debug level.
func Debugf(format string, v ...any) {
	if enabled(LevelDebug) {
		log.Printf("DEBUG "+format, v...)
	}
}

// Infof logs at info level.
func Infof(format string, v ...any) {
	if enabled(LevelInfo) {
		log.Printf(format, v...)
	}
}

// Warnf logs at warn level.
func Warnf(format string, v ...any) {
	if enabled(LevelWarn) {
		log.Printf("Warning: "+format, v...)
	}
}

// Errorf logs at error level.
func Errorf(format string, v ...any) {
	if enabled(LevelError) {
		log.Printf("Error: "+format, v...)
	}
}
