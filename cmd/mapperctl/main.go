// mapperctl runs and inspects devices on a signal-mapping network.
//
// Usage:
//
//	mapperctl [--config FILE] [--log-level LEVEL] <command>
//
// Commands:
//
//	demo        run the self-contained device/monitor walkthrough
//	device      run a device with signals from flags or the config file
//	monitor     print network changes; optionally bridge them to MQTT
//	connect     connect an output to an input
//	modify      change an existing connection
//	disconnect  remove a connection
//	browse      list devices advertised over DNS-SD
//
// Example:
//
//	mapperctl device --name synth --input freq:i:Hz --output env:f
//	mapperctl connect /synth.1/env /synth.1/freq --mode linear --range 0,1,20,2000
package main

import (
	"fmt"
	"os"

	"github.com/backkem/mapper/pkg/config"
	"github.com/pion/logging"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logLevel   string

	// Loaded in PersistentPreRunE.
	cfg           *config.Config
	loggerFactory logging.LoggerFactory
)

var rootCmd = &cobra.Command{
	Use:   "mapperctl",
	Short: "Run and inspect devices on a signal-mapping network",
	Long: `mapperctl joins the admin bus of a signal-mapping network.

It can run a device publishing input and output signals, watch the
network with a monitor, and ask devices to connect, modify and
disconnect signal mappings.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			if _, err := config.ParseLogLevel(logLevel); err != nil {
				return err
			}
			cfg.Logging.Level = logLevel
		}
		loggerFactory = cfg.LoggerFactory()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (disabled, error, warn, info, debug, trace)")

	rootCmd.AddCommand(demoCmd, deviceCmd, monitorCmd, connectCmd, modifyCmd, disconnectCmd, browseCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
