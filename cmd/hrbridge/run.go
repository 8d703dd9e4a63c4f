package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/hrbridge/internal/ble"
	"github.com/chaz8081/hrbridge/internal/config"
	"github.com/chaz8081/hrbridge/internal/httpapi"
	"github.com/chaz8081/hrbridge/internal/mqttsink"
	"github.com/chaz8081/hrbridge/internal/prefs"
)

var runCmd = &cobra.Command{
	Use:   "run [device-id]",
	Short: "Run the bridge",
	Long: `Run the bridge: serve the HTTP API and keep a heart rate monitor
connected. With a device id (see "hrbridge scan") that device is used and
remembered; otherwise the last remembered device is reconnected.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBridge,
}

var initConfig bool

func init() {
	runCmd.Flags().BoolVar(&initConfig, "init-config", false, "write a default config file if none exists")
}

func runBridge(cmd *cobra.Command, args []string) error {
	if initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			return err
		}
		if path != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote default config to %s\n", path)
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	logger := newLogger(os.Stderr, cfg.LogFormat, config.ParseLogLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	store, err := prefs.Open(cfg.PrefsPath)
	if err != nil {
		return fmt.Errorf("loading prefs: %w", err)
	}

	adapter, err := ble.NewAdapter(cfg.BLE.Backend, cfg.BLE.AdapterID)
	if err != nil {
		return err
	}
	if err := adapter.Enable(); err != nil {
		return err
	}
	if c, ok := adapter.(io.Closer); ok {
		defer c.Close()
	}
	manager := ble.NewManager(adapter, managerOptions(cfg), logger)

	server := httpapi.New(manager, store, httpapi.Options{ScanDuration: cfg.HTTP.ScanDuration}, logger)

	var sink *mqttsink.Sink
	if cfg.MQTT.Enabled {
		sink = mqttsink.New(cfg.MQTT, logger)
	}

	manager.SetHeartRateCallback(func(bpm int) {
		server.PublishHeartRate(bpm)
		if sink != nil {
			sink.PublishHeartRate(bpm)
		}
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if sink != nil {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := sink.Connect(connectCtx); err != nil {
			logger.Warn("[MQTT] initial connect failed, retrying in background", "error", err)
		}
		cancel()
	}

	go ble.WatchStatus(ctx, manager, time.Second, func(st ble.Status) {
		server.PublishStatus(st)
		if sink != nil {
			sink.PublishStatus(st)
		}
	})

	ln, err := httpapi.Listen(cfg.HTTP.Listen, cfg.HTTP.Port, cfg.HTTP.PortSearch)
	if err != nil {
		manager.Close()
		return err
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ln) }()

	deviceID := store.LastDeviceID()
	if len(args) == 1 {
		deviceID = args[0]
	}
	if deviceID != "" {
		if err := manager.Connect(deviceID); err != nil {
			logger.Warn("[BLE] cannot connect to saved device", "device", deviceID, "error", err)
		} else if err := store.SetLastDeviceID(deviceID); err != nil {
			logger.Warn("failed to save last device", "error", err)
		}
	} else {
		logger.Info("no device configured; POST /api/scan then /api/connect", "addr", ln.Addr().String())
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("[HTTP] shutdown", "error", shutdownErr)
	}
	manager.Close()
	if sink != nil {
		sink.Close()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
