// Package logger provides the structured logger used across the mini-app client.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a component-scoped logrus entry.
type Logger struct {
	*logrus.Entry
}

// Config controls the root logger.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	Output io.Writer
}

// New creates a root logger for the given component.
func New(component string, cfg Config) *Logger {
	base := logrus.New()

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	base.SetOutput(out)

	if strings.EqualFold(cfg.Format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	return &Logger{Entry: base.WithField("component", component)}
}

// NewDefault creates an info-level text logger writing to stderr.
func NewDefault(component string) *Logger {
	return New(component, Config{})
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *Logger {
	return New("nop", Config{Output: io.Discard, Level: "panic"})
}

// Named returns a logger for a sub-component sharing the same output and level.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Entry: l.Entry.WithField("component", component)}
}

// With returns a child logger carrying an extra field.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

// OrDefault returns l, or a default logger for component when l is nil.
func OrDefault(l *Logger, component string) *Logger {
	if l == nil {
		return NewDefault(component)
	}
	return l
}
