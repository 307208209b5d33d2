package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"Error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("text")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "info", "json")
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("reducer committed", "reducer", "add", "version", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "reducer committed", rec["msg"])
	assert.Equal(t, "add", rec["reducer"])
	assert.Equal(t, float64(3), rec["version"])
}

func TestNew_TextLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "warn", "text")
	require.NoError(t, err)

	logger.Info("quiet")
	assert.Empty(t, buf.String())

	logger.Warn("loud", "table", "jobs")
	assert.Contains(t, buf.String(), "msg=loud")
	assert.Contains(t, buf.String(), "table=jobs")
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "nope", "text")
	assert.Error(t, err)
	_, err = New(&bytes.Buffer{}, "info", "nope")
	assert.Error(t, err)
}

func TestSetup_InstallsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	_, err := Setup(&buf, "debug", "text")
	require.NoError(t, err)

	slog.Debug("through default")
	assert.Contains(t, buf.String(), "through default")
}
