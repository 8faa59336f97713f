package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/thereceipt/bleprint/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
}

func TestNew_NoOutputs(t *testing.T) {
	log, err := New(config.LogConfig{Output: "none"})
	require.NoError(t, err)
	log.Info("dropped")
}

func TestNew_FileOutput(t *testing.T) {
	dir := t.TempDir()
	log, err := New(config.LogConfig{
		Level:  "info",
		Output: "file",
		File:   config.LogFileConfig{Path: dir, Filename: "app.log", MaxSize: 1},
	})
	require.NoError(t, err)

	log.Info("printer connected", zap.String("address", "AA:BB"))
	log.Error("print job failed")
	require.NoError(t, log.Sync())

	app, err := os.ReadFile(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	assert.Contains(t, string(app), `"msg":"printer connected"`)
	assert.Contains(t, string(app), `"address":"AA:BB"`)

	errs, err := os.ReadFile(filepath.Join(dir, "error.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errs), "print job failed")
	assert.NotContains(t, string(errs), "printer connected")
}

func TestWriterCore(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(config.LogConfig{Output: "none"}, WriterCore(&buf, "warn"))
	require.NoError(t, err)

	log.Info("quiet")
	log.Warn("loud", zap.Int("chunk", 3))

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "WARN")
	assert.Contains(t, buf.String(), "loud")
}
