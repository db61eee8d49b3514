// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/retumi/internal/config"
)

// initBuffered points the global logger at an in-memory buffer.
func initBuffered(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))
	return &buf
}

func TestInitialize(t *testing.T) {
	t.Run("should write colorized console lines", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "retumi",
			Colors:      config.ColorConfig{Info: "green"},
		})

		GetLogger().Named("jsexec.session").Info("Session closed", zap.Int("handles", 3))
		Sync()

		output := buf.String()
		assert.Contains(t, output, colorGreen+"INFO"+colorReset)
		assert.Contains(t, output, "retumi.jsexec.session.")
		assert.Contains(t, output, "Session closed")
		assert.Contains(t, output, `"handles": 3`)
	})

	t.Run("should leave uncolored levels plain", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "info", Format: "console"})
		GetLogger().Warn("plain")
		Sync()

		assert.Contains(t, buf.String(), "WARN")
		assert.NotContains(t, buf.String(), colorReset)
	})

	t.Run("should write json", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"})
		GetLogger().Warn("This is a JSON message.", zap.String("key", "value"))
		Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output should be valid JSON")
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "This is a JSON message.", entry["msg"])
		assert.Equal(t, "value", entry["key"])
	})

	t.Run("should honour the level", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "warn", Format: "json"})
		GetLogger().Info("hidden")
		Sync()
		assert.Empty(t, buf.String())
	})

	t.Run("should fall back to info on a bad level", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "loud", Format: "json"})
		GetLogger().Debug("hidden")
		GetLogger().Info("shown")
		Sync()
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("should also write to a log file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "retumi.log")
		initBuffered(t, config.LoggerConfig{Level: "debug", Format: "console", LogFile: path, MaxSize: 1})

		GetLogger().Error("This should go to the file.")
		Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		line := strings.TrimSpace(string(content))
		assert.True(t, json.Valid([]byte(line)), "file output is always JSON: %s", line)
		assert.Contains(t, line, "This should go to the file.")
	})

	t.Run("should only initialize once", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "First"})
		first := GetLogger()

		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, zapcore.AddSync(&bytes.Buffer{}))
		second := GetLogger()

		assert.Same(t, first, second)
		second.Info("test")
		Sync()
		assert.Contains(t, buf.String(), "First")
		assert.NotContains(t, buf.String(), "Second")
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("should return a fallback logger if not initialized", func(t *testing.T) {
		ResetForTest()
		assert.NotNil(t, GetLogger())
	})

	t.Run("should return the global logger after initialization", func(t *testing.T) {
		initBuffered(t, config.LoggerConfig{Level: "info", ServiceName: "GlobalTest"})
		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}
