// Package logging builds the daemon's charmbracelet loggers. Component
// loggers nest their prefixes ("engine/queue") and share the parent's
// output, format and level.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Level represents a log level.
type Level = log.Level

// Log levels.
const (
	DebugLevel = log.DebugLevel
	InfoLevel  = log.InfoLevel
	WarnLevel  = log.WarnLevel
	ErrorLevel = log.ErrorLevel
	FatalLevel = log.FatalLevel
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Logger is a charmbracelet logger that knows its component path.
type Logger struct {
	*log.Logger
	prefix string
}

// Config holds logger configuration.
type Config struct {
	Level  string
	Format string
	Prefix string
	Output io.Writer
}

// New creates a logger. An unknown level falls back to info.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = &Config{}
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	opts := log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          cfg.Prefix,
	}
	if cfg.Format == FormatJSON {
		opts.Formatter = log.JSONFormatter
		opts.TimeFormat = time.RFC3339
	}

	logger := log.NewWithOptions(output, opts)
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = InfoLevel
	}
	logger.SetLevel(level)

	return &Logger{Logger: logger, prefix: cfg.Prefix}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(&Config{Level: "fatal", Output: io.Discard})
}

// ParseLevel parses a level name. "warning" is accepted for warn and an
// empty name means info.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "":
		return InfoLevel, nil
	case "warning":
		return WarnLevel, nil
	}
	l, err := log.ParseLevel(level)
	if err != nil {
		return InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

// ValidFormat reports whether format names a supported output format.
func ValidFormat(format string) bool {
	return format == "" || format == FormatText || format == FormatJSON
}

// With returns a logger that adds keyvals to every line.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{Logger: l.Logger.With(keyvals...), prefix: l.prefix}
}

// Component returns a child logger whose prefix is name appended to the
// parent's component path.
func (l *Logger) Component(name string) *Logger {
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "/" + name
	}
	return &Logger{Logger: l.Logger.WithPrefix(prefix), prefix: prefix}
}

// Prefix returns the component path.
func (l *Logger) Prefix() string {
	return l.prefix
}

var defaultLogger = New(nil)

// SetDefault replaces the logger returned by GetDefault.
func SetDefault(l *Logger) {
	defaultLogger = l
}

// GetDefault returns the process-wide logger components fall back to.
func GetDefault() *Logger {
	return defaultLogger
}
