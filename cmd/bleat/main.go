package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bleat",
	Short: "AT command tool for serial BLE radio modules",
	Long: `bleat talks to a BLE radio module over a serial line using AT commands.

- Send raw AT commands and print the reply body
- Query and configure name, TX power, advertising, beacon payload
- Read and write characteristic values
- Serve a web console that shares one module between clients

Use --demo to run against a simulated module without hardware.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(ExitCode(err))
	}
}

func init() {
	rootCmd.AddCommand(atCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(nameCmd)
	rootCmd.AddCommand(rssiCmd)
	rootCmd.AddCommand(txPowerCmd)
	rootCmd.AddCommand(advertiseCmd)
	rootCmd.AddCommand(uuidCmd)
	rootCmd.AddCommand(beaconCmd)
	rootCmd.AddCommand(charCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(hexCmd)
	rootCmd.AddCommand(serveCmd)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "/etc/bleat/config.yaml", "Path to config file")
	pf.StringP("port", "p", "", "Serial port (overrides config)")
	pf.IntP("baud", "b", 0, "Baud rate (overrides config)")
	pf.Int("timeout", 0, "Request timeout in milliseconds (overrides config)")
	pf.BoolP("debug", "d", false, "Echo commands and raw replies to stderr")
	pf.Bool("demo", false, "Use a simulated module instead of a serial port")
	pf.Bool("no-color", false, "Disable coloured echo output")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.BoolP("verbose", "v", false, "Shorthand for --log-level debug")
}
