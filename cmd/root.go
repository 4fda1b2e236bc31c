// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tempbus/internal/config"
	"github.com/Thermoquad/tempbus/internal/logging"
	"github.com/Thermoquad/tempbus/pkg/r4dcb08"
	"github.com/Thermoquad/tempbus/pkg/rtu"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Device flags
	deviceAddress uint8
	verbose       bool

	// Logging flags
	logLevel  string
	logFormat string

	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "tempbus",
	Short: "R4DCB08 Modbus temperature module toolkit",
	Long: `Tempbus - A CLI tool for R4DCB08 eight-channel temperature modules on Modbus RTU.

Reads temperatures and corrections, configures address, baudrate and
per-channel correction, scans the bus for devices and publishes readings
to an MQTT broker in daemon mode.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the TEMPBUS_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(logging.Options{
			Level:  logLevel,
			Format: logFormat,
			Output: os.Stderr,
		})
		if err != nil {
			return err
		}
		logger = l
		slog.SetDefault(l)
		return nil
	},
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", config.DefaultSerialPort, "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", config.DefaultBaudrate, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket serial bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().Uint8VarP(&deviceAddress, "address", "a", config.DefaultAddress, "Device address (1-254)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print a confirmation after every device operation")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatConsole, "Log format (console or json)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// checkBusFlags validates the flags shared by every device command
func checkBusFlags() error {
	if deviceAddress < rtu.MinAddress || deviceAddress > rtu.MaxAddress {
		return fmt.Errorf("%w: address %d is not %d..%d",
			r4dcb08.ErrInvalidArgument, deviceAddress, rtu.MinAddress, rtu.MaxAddress)
	}
	if wsURL == "" && !slices.Contains(config.ValidBaudrates, baudRate) {
		return fmt.Errorf("%w: baud rate %d is not supported", r4dcb08.ErrInvalidArgument, baudRate)
	}
	return nil
}

// openClient opens the bus selected by the connection flags and wraps it in
// a device client. The returned closer releases the transport.
func openClient() (*r4dcb08.Client, Connection, string, error) {
	if err := checkBusFlags(); err != nil {
		return nil, nil, "", err
	}
	conn, desc, err := OpenConnection()
	if err != nil {
		return nil, nil, "", err
	}
	client := r4dcb08.NewClient(conn,
		r4dcb08.WithLogger(logger),
		r4dcb08.WithOutput(os.Stdout),
		r4dcb08.WithVerbose(verbose),
	)
	logger.Debug("connected", "transport", desc, "address", deviceAddress)
	return client, conn, desc, nil
}
