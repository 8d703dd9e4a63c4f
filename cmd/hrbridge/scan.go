package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chaz8081/hrbridge/internal/ble"
	"github.com/chaz8081/hrbridge/internal/config"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for heart rate monitors",
	Long: `Scan for Bluetooth LE devices advertising the Heart Rate service and
print their ids. Pass an id to "hrbridge run" or POST it to /api/connect.`,
	RunE: runScan,
}

var scanTimeout time.Duration

func init() {
	scanCmd.Flags().DurationVarP(&scanTimeout, "timeout", "t", 10*time.Second, "scan duration")
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	logger := newLogger(os.Stderr, cfg.LogFormat, config.ParseLogLevel(cfg.LogLevel))

	adapter, err := ble.NewAdapter(cfg.BLE.Backend, cfg.BLE.AdapterID)
	if err != nil {
		return err
	}
	if err := adapter.Enable(); err != nil {
		return err
	}
	m := ble.NewManager(adapter, managerOptions(cfg), logger)
	defer m.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.ErrOrStderr(), "Scanning for %s...\n", scanTimeout)
	devices := ble.ScanForDevices(ctx, m, scanTimeout)
	printDevices(cmd.OutOrStdout(), devices)
	return nil
}

// printDevices renders the scan result as a table.
func printDevices(w io.Writer, devices []ble.DiscoveredDevice) {
	if len(devices) == 0 {
		fmt.Fprintln(w, color.YellowString("No heart rate monitors found."))
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\n", color.CyanString("ID"), color.CyanString("ADDRESS"), color.CyanString("NAME"))
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", color.GreenString(d.ID), ble.FormatMAC(d.Address), d.Name)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d device(s) found.\n", len(devices))
}

func managerOptions(cfg *config.Config) ble.Options {
	return ble.Options{
		PollInterval:       cfg.BLE.PollInterval,
		UnsubscribeTimeout: cfg.BLE.UnsubscribeTimeout,
		ConnectTimeout:     cfg.BLE.ConnectTimeout,
	}
}
