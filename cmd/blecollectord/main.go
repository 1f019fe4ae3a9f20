// Command blecollectord runs the BLE collector daemon: it loads a YAML
// configuration, connects to the local BLE adapters, and serves the
// HTTP query API and Prometheus scrape endpoint until signalled to
// stop.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "blecollectord",
	Short: "BLE GATT collector daemon",
	Long: `blecollectord continuously scans local Bluetooth Low Energy adapters,
matches peripherals against a declarative configuration, decodes GATT
characteristic payloads, and republishes them over an HTTP query API,
a Prometheus scrape endpoint, and MQTT state/discovery topics.`,
	Version: version,
	RunE:    runServe,
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringP("config", "c", "blecollector.yaml", "Path to the YAML configuration file")
	rootCmd.Flags().StringSlice("adapter", nil, "BLE adapter ids to use (default: the host's default radio)")
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	defer signal.Stop(sigCh)

	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
