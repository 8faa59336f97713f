package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/bleprint/internal/escpos"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "registry:\n  path: /tmp/reg.json\n")

	l, err := Load(path)
	require.NoError(t, err)
	cfg := l.Config()

	assert.Equal(t, 12212, cfg.Server.Port)
	assert.Equal(t, 80, cfg.Printer.PaperWidth)
	assert.Equal(t, "partial", cfg.Printer.CutType)
	assert.Equal(t, 15, cfg.Transport.ChunkSize)
	assert.Equal(t, 20*time.Millisecond, cfg.Transport.PacingDelay)
	assert.Equal(t, 15*time.Second, cfg.Transport.ConnectTimeout)
	assert.True(t, cfg.Bluetooth.AutoReconnect)
	assert.Equal(t, "/tmp/reg.json", cfg.Registry.Path)
	assert.Equal(t, path, l.File())
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
printer:
  paper_width: 58
  text_encoding: cp437
  cut_type: FULL
  cashdrawer_enabled: true
  currency_symbol: "$"
transport:
  chunk_size: 20
  retry_delay: 250ms
bluetooth:
  device_name: MTP-II
`)

	l, err := Load(path)
	require.NoError(t, err)
	cfg := l.Config()

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr())
	assert.Equal(t, 250*time.Millisecond, cfg.Transport.RetryDelay)
	assert.Equal(t, "MTP-II", cfg.Bluetooth.DeviceName)

	s := cfg.Printer.Settings()
	assert.Equal(t, 58, s.PaperWidth)
	assert.Equal(t, escpos.CutFull, s.CutType)
	assert.True(t, s.CashDrawerEnabled)
	assert.Equal(t, "$", s.CurrencySymbol)

	tx := cfg.Transport.Transmitter()
	assert.Equal(t, 20, tx.ChunkSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BLEPRINT_PRINTER_PAPER_WIDTH", "58")
	t.Setenv("BLEPRINT_SERVER_PORT", "8181")
	path := writeConfig(t, "printer:\n  paper_width: 80\n")

	l, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 58, l.Config().Printer.PaperWidth)
	assert.Equal(t, 8181, l.Config().Server.Port)
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, "printer:\n  paper_width: 70\n  cut_type: half\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paper_width")
	assert.Contains(t, err.Error(), "cut_type")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, "")
	l, err := Load(path)
	require.NoError(t, err)

	cfg := *l.Config()
	require.NoError(t, Validate(&cfg))

	cfg.Transport.ChunkSize = 0
	assert.ErrorContains(t, Validate(&cfg), "chunk_size")

	cfg = *l.Config()
	cfg.Printer.TextEncoding = "ebcdic"
	assert.ErrorContains(t, Validate(&cfg), "text_encoding")

	cfg = *l.Config()
	cfg.Log.Output = "syslog"
	assert.ErrorContains(t, Validate(&cfg), "log.output")
}

func TestWatch_ReloadsPrinterSettings(t *testing.T) {
	path := writeConfig(t, "printer:\n  paper_width: 80\n")
	l, err := Load(path)
	require.NoError(t, err)

	reloaded := make(chan *Config, 4)
	l.Watch(nil, func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})

	require.NoError(t, os.WriteFile(path, []byte("printer:\n  paper_width: 58\n"), 0o644))

	select {
	case c := <-reloaded:
		assert.Equal(t, 58, c.Printer.PaperWidth)
		assert.Equal(t, 58, l.Config().Printer.PaperWidth)
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestDefaultRegistryPath(t *testing.T) {
	assert.Contains(t, DefaultRegistryPath(), "printer")
}
