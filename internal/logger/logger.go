// Package logger builds the listener's slog logger. Output never goes to
// stdout: that stream belongs to supervisord's event protocol.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for file output.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Level names accepted in configuration.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// FileConfig enables rotated file output when Path is set.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // megabytes before rotation (default 10)
	MaxBackups int    `mapstructure:"max_backups"`  // number of backups to keep (default 3)
	MaxAgeDays int    `mapstructure:"max_age_days"` // days to keep (default 7)
	Compress   bool   `mapstructure:"compress"`     // gzip rotated files
}

// Config describes the application logger.
type Config struct {
	Level     string     `mapstructure:"level"`
	Format    string     `mapstructure:"format"`
	Color     bool       `mapstructure:"color"`
	AddSource bool       `mapstructure:"add_source"`
	File      FileConfig `mapstructure:"file"`
}

// ParseLevel maps a level name to its slog level. The empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case LevelDebug:
		return slog.LevelDebug, nil
	case "", LevelInfo:
		return slog.LevelInfo, nil
	case LevelWarn, "warning":
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New builds the logger. The returned closer releases the log file and is
// a no-op for stderr output.
func (c Config) New() (*slog.Logger, io.Closer, error) {
	return c.NewWithWriter(os.Stderr)
}

// NewWithWriter is New with a custom fallback writer used when no file is configured.
func (c Config) NewWithWriter(fallback io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}
	w, closer := c.writer(fallback)
	opts := &slog.HandlerOptions{Level: level, AddSource: c.AddSource}

	var h slog.Handler
	switch strings.ToLower(c.Format) {
	case "", FormatText:
		// Colors only make sense on a terminal-like stream.
		if c.Color && c.File.Path == "" {
			h = NewColorTextHandler(w, opts, true)
		} else {
			h = slog.NewTextHandler(w, opts)
		}
	case FormatJSON:
		h = slog.NewJSONHandler(w, opts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", c.Format)
	}
	return slog.New(h), closer, nil
}

func (c Config) writer(fallback io.Writer) (io.Writer, io.Closer) {
	if c.File.Path == "" {
		return fallback, nopCloser{}
	}
	f := &lj.Logger{
		Filename:   c.File.Path,
		MaxSize:    valOr(c.File.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.File.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.File.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.File.Compress,
	}
	return f, f
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
