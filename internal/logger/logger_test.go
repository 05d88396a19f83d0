package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	t.Run("should write JSON lines to the log file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "nalar.log")
		lg, err := New(Config{Level: "info", File: path})
		require.NoError(t, err)

		zl := lg.GetZerolog()
		zl.Info().Str("backend", "groq-kimi-k2").Msg("Backend selected")
		require.NoError(t, lg.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		var entry map[string]any
		require.NoError(t, json.Unmarshal(data, &entry))
		assert.Equal(t, "info", entry["level"])
		assert.Equal(t, "Backend selected", entry["message"])
		assert.Equal(t, "groq-kimi-k2", entry["backend"])
		assert.Contains(t, entry, "time")
	})

	t.Run("should filter below the configured level", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nalar.log")
		lg, err := New(Config{Level: "warn", File: path})
		require.NoError(t, err)

		zl := lg.GetZerolog()
		zl.Info().Msg("dropped")
		zl.Warn().Msg("kept")
		require.NoError(t, lg.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "dropped")
		assert.Contains(t, string(data), "kept")
	})

	t.Run("should fall back to info on unknown levels", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nalar.log")
		lg, err := New(Config{Level: "verbose", File: path})
		require.NoError(t, err)
		defer lg.Close()

		zl := lg.GetZerolog()
		zl.Info().Msg("still logged")
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "still logged")
	})

	t.Run("should work without any output configured", func(t *testing.T) {
		lg, err := New(Config{Level: "info"})
		require.NoError(t, err)

		zl := lg.GetZerolog()
		zl.Info().Msg("discarded")
		assert.NoError(t, lg.Close())
	})
}
