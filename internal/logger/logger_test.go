package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewTextFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := Config{Level: "warn"}.NewWithWriter(&buf)
	require.NoError(t, err)
	defer func() { _ = closer.Close() }()

	log.Info("hidden")
	log.Warn("shown", "check", "http")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "check=http")
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := Config{Format: "json"}.NewWithWriter(&buf)
	require.NoError(t, err)
	log.Info("restarted", "process", "web:web_8080")
	assert.Contains(t, buf.String(), `"process":"web:web_8080"`)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, _, err := Config{Format: "xml"}.NewWithWriter(&bytes.Buffer{})
	assert.Error(t, err)
	_, _, err = Config{Level: "loud"}.NewWithWriter(&bytes.Buffer{})
	assert.Error(t, err)
}

func TestNewColor(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := Config{Color: true}.NewWithWriter(&buf)
	require.NoError(t, err)
	log.With("listener", "web-check").Error("boom")
	out := buf.String()
	assert.Contains(t, out, "\033[31mERROR\033[0m")
	assert.Contains(t, out, "listener=web-check")
}

func TestColorHandlerWithoutTime(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewColorTextHandler(&buf, nil, false))
	log.Info("hello")
	assert.False(t, strings.Contains(buf.String(), "time="))
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svchecks.log")
	log, closer, err := Config{Color: true, File: FileConfig{Path: path}}.New()
	require.NoError(t, err)
	log.Info("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
	assert.NotContains(t, string(data), "\033[", "no colors in files")
}

func TestFileRotationDefaults(t *testing.T) {
	w, closer := Config{File: FileConfig{Path: "x.log"}}.writer(nil)
	l, ok := w.(*lj.Logger)
	require.True(t, ok)
	assert.Equal(t, DefaultMaxSizeMB, l.MaxSize)
	assert.Equal(t, DefaultMaxBackups, l.MaxBackups)
	assert.Equal(t, DefaultMaxAgeDays, l.MaxAge)
	assert.Same(t, l, closer.(*lj.Logger))

	w, _ = Config{File: FileConfig{Path: "y.log", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}}.writer(nil)
	l = w.(*lj.Logger)
	assert.Equal(t, 1, l.MaxSize)
	assert.Equal(t, 9, l.MaxBackups)
	assert.Equal(t, 11, l.MaxAge)
	assert.True(t, l.Compress)
}
