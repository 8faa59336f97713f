// Package config loads service configuration from YAML, environment
// variables and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/thereceipt/bleprint/internal/escpos"
	"github.com/thereceipt/bleprint/internal/printer"
	"github.com/thereceipt/bleprint/internal/receipt"
)

// EnvPrefix prefixes environment overrides, e.g. BLEPRINT_PRINTER_PAPER_WIDTH.
const EnvPrefix = "BLEPRINT"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Printer   PrinterConfig   `mapstructure:"printer"`
	Transport TransportConfig `mapstructure:"transport"`
	Bluetooth BluetoothConfig `mapstructure:"bluetooth"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // gin mode: debug, release, test
	Dashboard       bool          `mapstructure:"dashboard"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is host:port for the listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type PrinterConfig struct {
	PaperWidth        int    `mapstructure:"paper_width"`
	TextEncoding      string `mapstructure:"text_encoding"`
	CutType           string `mapstructure:"cut_type"`
	CashDrawerEnabled bool   `mapstructure:"cashdrawer_enabled"`
	AutoPrintEnabled  bool   `mapstructure:"auto_print_enabled"`
	CurrencySymbol    string `mapstructure:"currency_symbol"`
	TrailingFeeds     int    `mapstructure:"trailing_feeds"`
}

// Settings converts to the settings a print job runs with.
func (p PrinterConfig) Settings() printer.Settings {
	return printer.Settings{
		PaperWidth:        p.PaperWidth,
		TextEncoding:      p.TextEncoding,
		CutType:           escpos.CutType(strings.ToLower(p.CutType)),
		CashDrawerEnabled: p.CashDrawerEnabled,
		AutoPrintEnabled:  p.AutoPrintEnabled,
		CurrencySymbol:    p.CurrencySymbol,
		TrailingFeeds:     p.TrailingFeeds,
	}
}

type TransportConfig struct {
	ChunkSize         int           `mapstructure:"chunk_size"`
	PacingDelay       time.Duration `mapstructure:"pacing_delay"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ScanTimeout       time.Duration `mapstructure:"scan_timeout"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
}

// Transmitter returns the chunked-write settings.
func (t TransportConfig) Transmitter() printer.TransmitterConfig {
	return printer.TransmitterConfig{
		ChunkSize:   t.ChunkSize,
		PacingDelay: t.PacingDelay,
		RetryDelay:  t.RetryDelay,
	}
}

type BluetoothConfig struct {
	DeviceName    string `mapstructure:"device_name"`
	DeviceAddress string `mapstructure:"device_address"`
	AutoReconnect bool   `mapstructure:"auto_reconnect"`
}

type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"` // console or json
	Output string        `mapstructure:"output"` // stdout, file, both, none
	File   LogFileConfig `mapstructure:"file"`
}

type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// Loader owns the viper instance and the current Config.
type Loader struct {
	v   *viper.Viper
	mu  sync.RWMutex
	cfg *Config
}

// Load reads configPath, or config.yaml from ./config or the working
// directory when configPath is empty. A missing default file is not an error.
func Load(configPath string) (*Loader, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Loader{v: v, cfg: cfg}, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Registry.Path == "" {
		cfg.Registry.Path = DefaultRegistryPath()
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 12212)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.dashboard", true)
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("printer.paper_width", receipt.PaperWidth80)
	v.SetDefault("printer.text_encoding", "utf-8")
	v.SetDefault("printer.cut_type", string(escpos.CutPartial))
	v.SetDefault("printer.cashdrawer_enabled", false)
	v.SetDefault("printer.auto_print_enabled", false)
	v.SetDefault("printer.currency_symbol", "")
	v.SetDefault("printer.trailing_feeds", 3)

	v.SetDefault("transport.chunk_size", printer.DefaultChunkSize)
	v.SetDefault("transport.pacing_delay", "20ms")
	v.SetDefault("transport.retry_delay", "100ms")
	v.SetDefault("transport.settle_delay", "500ms")
	v.SetDefault("transport.connect_timeout", "15s")
	v.SetDefault("transport.scan_timeout", "5s")
	v.SetDefault("transport.reconnect_interval", "10s")

	v.SetDefault("bluetooth.device_name", "")
	v.SetDefault("bluetooth.device_address", "")
	v.SetDefault("bluetooth.auto_reconnect", true)

	v.SetDefault("registry.path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "bleprint.log")
	v.SetDefault("log.file.max_size", 10)
	v.SetDefault("log.file.max_age", 7)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.compress", false)
}

// Validate rejects settings no printer job could run with.
func Validate(cfg *Config) error {
	var errs []error

	if _, err := receipt.LineLength(cfg.Printer.PaperWidth); err != nil {
		errs = append(errs, fmt.Errorf("printer.paper_width: %w", err))
	}
	if _, err := escpos.ParseCutType(cfg.Printer.CutType); err != nil {
		errs = append(errs, fmt.Errorf("printer.cut_type: %w", err))
	}
	if _, err := escpos.LookupCharset(cfg.Printer.TextEncoding); err != nil {
		errs = append(errs, fmt.Errorf("printer.text_encoding: %w", err))
	}
	if cfg.Printer.TrailingFeeds < 0 {
		errs = append(errs, errors.New("printer.trailing_feeds: must not be negative"))
	}
	if cfg.Transport.ChunkSize < 1 {
		errs = append(errs, errors.New("transport.chunk_size: must be at least 1"))
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", cfg.Server.Port))
	}
	switch cfg.Log.Output {
	case "stdout", "file", "both", "none":
	default:
		errs = append(errs, fmt.Errorf("log.output: unknown output %q", cfg.Log.Output))
	}

	return errors.Join(errs...)
}

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// File returns the config file in use, or "" when running on defaults.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// Watch reloads the file on change and passes each valid new Config to
// callback. Invalid edits are logged and the previous Config is kept.
func (l *Loader) Watch(log *zap.Logger, callback func(*Config)) {
	if log == nil {
		log = zap.NewNop()
	}
	if l.File() == "" {
		log.Debug("no config file to watch")
		return
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(l.v)
		if err != nil {
			log.Warn("config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}

		l.mu.Lock()
		l.cfg = cfg
		l.mu.Unlock()

		log.Info("config reloaded", zap.String("file", e.Name))
		if callback != nil {
			callback(cfg)
		}
	})
	l.v.WatchConfig()
}

// DefaultRegistryPath places the registry in the user config directory,
// falling back to the working directory.
func DefaultRegistryPath() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "bleprint", "printers.json")
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, "printer_registry.json")
	}
	return "printer_registry.json"
}
