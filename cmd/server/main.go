package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/thereceipt/bleprint/internal/api"
	"github.com/thereceipt/bleprint/internal/ble"
	"github.com/thereceipt/bleprint/internal/config"
	"github.com/thereceipt/bleprint/internal/logger"
	"github.com/thereceipt/bleprint/internal/printer"
	"github.com/thereceipt/bleprint/internal/registry"
	"github.com/thereceipt/bleprint/internal/tui"
)

// Version is set during build via ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./config/config.yaml or ./config.yaml)")
	headless := flag.Bool("headless", false, "run without the terminal dashboard")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return
	}

	if err := run(*configPath, *headless); err != nil {
		fmt.Fprintf(os.Stderr, "bleprint: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, headless bool) error {
	loader, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg := loader.Config()
	dashboard := cfg.Server.Dashboard && !headless

	// The dashboard owns the terminal; its log panel replaces stdout.
	logCfg := cfg.Log
	var panel switchWriter
	var extra []zapcore.Core
	if dashboard {
		switch logCfg.Output {
		case "stdout":
			logCfg.Output = "none"
		case "both":
			logCfg.Output = "file"
		}
		extra = append(extra, logger.WriterCore(&panel, logCfg.Level))
	}
	log, err := logger.New(logCfg, extra...)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("starting", zap.String("version", Version), zap.String("config", loader.File()))

	reg, err := registry.New(cfg.Registry.Path)
	if err != nil {
		return fmt.Errorf("open printer registry: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter := ble.NewTinyGoAdapter()
	manager := printer.NewManager(adapter, reg, printer.NewPublisher(), printer.ManagerConfig{
		SettleDelay:    cfg.Transport.SettleDelay,
		ConnectTimeout: cfg.Transport.ConnectTimeout,
	}, log)
	go manager.Run(ctx)

	service, err := printer.NewService(manager, printer.NewTransmitter(cfg.Transport.Transmitter(), log), cfg.Printer.Settings(), log)
	if err != nil {
		return err
	}
	discovery := printer.NewDiscovery(adapter, nil, nil, cfg.Transport.ScanTimeout, log)

	if err := discovery.Enable(); err != nil {
		// Keep serving: status and registry endpoints still work, and
		// connect requests report the adapter error.
		log.Error("bluetooth unavailable", zap.Error(err))
	}

	loader.Watch(log, func(c *config.Config) {
		if err := service.UpdateSettings(c.Printer.Settings()); err != nil {
			log.Warn("printer settings not applied", zap.Error(err))
			return
		}
		log.Info("printer settings updated")
	})

	if cfg.Bluetooth.AutoReconnect {
		monitor := printer.NewMonitor(manager, reconnectAddress(cfg.Bluetooth, reg), cfg.Transport.ReconnectInterval, log)
		monitor.Start()
		defer monitor.Stop()
	}

	go initialConnect(ctx, cfg.Bluetooth, manager, discovery, log)

	server := api.NewServer(service, discovery, reg, cfg.Server.Mode, log)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: server.Handler(),
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("API server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var tuiDone chan struct{}
	if dashboard {
		app := tui.NewTViewApp(service, discovery, reg, httpServer.Addr)
		panel.Set(app.LogWriter())
		tuiDone = make(chan struct{})
		go func() {
			defer close(tuiDone)
			if err := app.Run(); err != nil {
				log.Error("dashboard stopped", zap.Error(err))
			}
			stop()
		}()
		defer func() {
			app.Stop()
			<-tuiDone
			panel.Set(nil)
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Error("API server failed", zap.Error(err))
		return err
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("API server shutdown", zap.Error(err))
	}
	service.Wait()
	if err := manager.Disconnect(); err != nil {
		log.Warn("disconnect on shutdown", zap.Error(err))
	}
	return nil
}

// reconnectAddress prefers the configured printer, then the one used last.
func reconnectAddress(bt config.BluetoothConfig, reg *registry.Registry) func() string {
	return func() string {
		if bt.DeviceAddress != "" {
			return bt.DeviceAddress
		}
		if last := reg.Last(); last != nil {
			return last.Address
		}
		return ""
	}
}

func initialConnect(ctx context.Context, bt config.BluetoothConfig, manager *printer.Manager, discovery *printer.Discovery, log *zap.Logger) {
	var err error
	switch {
	case bt.DeviceAddress != "":
		err = manager.ConnectAddress(ctx, bt.DeviceAddress)
	case bt.DeviceName != "":
		var dev printer.PrinterDevice
		if dev, err = discovery.Scan(ctx, printer.ChooseByName(bt.DeviceName)); err == nil {
			err = manager.Connect(ctx, dev)
		}
	default:
		return
	}
	if err != nil && ctx.Err() == nil {
		log.Warn("initial connect failed", zap.Error(err))
	}
}

// switchWriter forwards to the current target and discards while unset.
type switchWriter struct {
	mu sync.RWMutex
	w  io.Writer
}

func (s *switchWriter) Set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.w == nil {
		return len(p), nil
	}
	return s.w.Write(p)
}
