package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	return entry
}

func TestNewZerologLogger(t *testing.T) {
	t.Run("writes service name and fields", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewZerologLogger(zerolog.New(&buf), "apinet", zerolog.DebugLevel)

		l.Info("session started", Field{Key: "session", Value: 7})

		entry := decodeLine(t, &buf)
		assert.Equal(t, "apinet", entry["service"])
		assert.Equal(t, "info", entry["level"])
		assert.Equal(t, "session started", entry["message"])
		assert.Equal(t, float64(7), entry["session"])
		assert.Contains(t, entry, "time")
	})

	t.Run("filters below level", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewZerologLogger(zerolog.New(&buf), "apinet", zerolog.WarnLevel)

		l.Debug("hidden")
		l.Info("hidden")
		assert.Zero(t, buf.Len())

		l.Error("shown", Err(errors.New("boom")))
		entry := decodeLine(t, &buf)
		assert.Equal(t, "boom", entry["error"])
	})
}

func TestZerologLogger_With(t *testing.T) {
	var buf bytes.Buffer
	base := NewZerologLogger(zerolog.New(&buf), "apinet", zerolog.InfoLevel)
	scoped := base.With(Field{Key: "remote", Value: "127.0.0.1:9000"})

	scoped.Warn("reply dropped")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "127.0.0.1:9000", entry["remote"])
	assert.NoError(t, scoped.Close())
}

func TestNewNopLogger(t *testing.T) {
	l := NewNopLogger()
	require.NotNil(t, l)

	assert.NotPanics(t, func() {
		l.Debug("x")
		l.Info("x")
		l.With(Field{Key: "k", Value: 1}).Error("x")
	})
	assert.NoError(t, l.Close())
}

func TestParseLevel(t *testing.T) {
	t.Run("empty maps to info", func(t *testing.T) {
		level, err := ParseLevel("")
		require.NoError(t, err)
		assert.Equal(t, zerolog.InfoLevel, level)
	})

	t.Run("case insensitive", func(t *testing.T) {
		level, err := ParseLevel(" DEBUG ")
		require.NoError(t, err)
		assert.Equal(t, zerolog.DebugLevel, level)
	})

	t.Run("unknown level returns error", func(t *testing.T) {
		_, err := ParseLevel("loud")
		assert.Error(t, err)
	})
}

func TestDailyFileWriter(t *testing.T) {
	t.Run("writes and closes", func(t *testing.T) {
		dir := t.TempDir()
		w, err := NewDailyFileWriter("apinet", dir)
		require.NoError(t, err)

		n, err := w.Write([]byte("line\n"))
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		path := w.CurrentLogFile()
		assert.True(t, strings.HasPrefix(filepath.Base(path), "apinet_"))

		require.NoError(t, w.Close())
		require.NoError(t, w.Close())
		assert.Empty(t, w.CurrentLogFile())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "line\n", string(data))

		_, err = w.Write([]byte("late"))
		assert.ErrorIs(t, err, ErrWriterClosed)
	})

	t.Run("rotates when the day changes", func(t *testing.T) {
		dir := t.TempDir()
		w, err := NewDailyFileWriter("apinet", dir)
		require.NoError(t, err)
		defer w.Close()

		day := time.Date(2030, 1, 1, 23, 59, 0, 0, time.UTC)
		w.now = func() time.Time { return day }
		_, err = w.Write([]byte("first\n"))
		require.NoError(t, err)

		day = day.Add(2 * time.Minute)
		_, err = w.Write([]byte("second\n"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "apinet_2030-01-02.log"), w.CurrentLogFile())

		first, err := os.ReadFile(filepath.Join(dir, "apinet_2030-01-01.log"))
		require.NoError(t, err)
		assert.Equal(t, "first\n", string(first))

		second, err := os.ReadFile(filepath.Join(dir, "apinet_2030-01-02.log"))
		require.NoError(t, err)
		assert.Equal(t, "second\n", string(second))
	})

	t.Run("missing directory fails", func(t *testing.T) {
		_, err := NewDailyFileWriter("apinet", filepath.Join(t.TempDir(), "missing"))
		assert.Error(t, err)
	})
}

func TestNewZerologFileLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	log, err := NewZerologFileLogger("apinet", dir, zerolog.InfoLevel)
	require.NoError(t, err)

	log.With(Field{Key: "session_id", Value: 7}).Info("hello")
	require.NoError(t, log.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id":7`)
	assert.Contains(t, string(data), `"service":"apinet"`)
}
