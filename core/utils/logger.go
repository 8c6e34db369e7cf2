package utils

import (
	"fmt"
	"log"
	"os"
	"sync"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger is a small leveled logger shared by services and background
// workers. All methods are safe on a nil receiver so optional wiring
// does not need guards at every call site.
type Logger struct {
	mu    sync.Mutex
	out   *log.Logger
	level Level
}

func NewLogger() *Logger {
	return &Logger{out: log.New(os.Stderr, "", log.LstdFlags|log.LUTC), level: LevelInfo}
}

func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) logf(level Level, tag, format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	min := l.level
	out := l.out
	l.mu.Unlock()
	if level < min || out == nil {
		return
	}
	out.Output(3, tag+" "+fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, "DEBUG", format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, "INFO", format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, "WARN", format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, "ERROR", format, args...) }
