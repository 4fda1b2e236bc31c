// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tempbus/pkg/r4dcb08"
	"github.com/Thermoquad/tempbus/pkg/rtu"
)

var correctionCmd = &cobra.Command{
	Use:   "correction",
	Short: "Read the temperature correction of every channel",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, conn, _, err := openClient()
		if err != nil {
			return err
		}
		defer conn.Close()

		values, err := client.ReadCorrections(deviceAddress)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), formatCorrections(values))
		return nil
	},
}

var setAddressCmd = &cobra.Command{
	Use:   "set-address NEW",
	Short: "Change the device address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		newAddr, err := parseAddress(args[0])
		if err != nil {
			return err
		}

		client, conn, _, err := openClient()
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := client.WriteAddress(deviceAddress, newAddr); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Old address %d, new address %d\n", deviceAddress, newAddr)
		return nil
	},
}

var setBaudrateCmd = &cobra.Command{
	Use:   "set-baudrate CODE",
	Short: "Change the device baudrate (applied after power cycle)",
	Long: `Change the line speed of the device. CODE is one of:

  0 = 1200, 1 = 2400, 2 = 4800, 3 = 9600, 4 = 19200

A rate in baud (e.g. 9600) is accepted as well. The device keeps its
current speed until it is powered on again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := parseBaudCode(args[0])
		if err != nil {
			return err
		}

		client, conn, _, err := openClient()
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := client.WriteBaudrate(deviceAddress, code); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set baudrate to %d, will be updated when module is powered on again!\n", code.Rate())
		return nil
	},
}

var setCorrectionCmd = &cobra.Command{
	Use:   "set-correction CH VALUE",
	Short: "Set the temperature correction of a channel",
	Long: `Set the correction added by the device to channel CH (1-8), in degrees
Celsius with 0.1 resolution.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ch, err := strconv.Atoi(args[0])
		if err != nil || ch < 1 || ch > r4dcb08.Channels {
			return fmt.Errorf("%w: channel %q is not 1..%d", r4dcb08.ErrInvalidArgument, args[0], r4dcb08.Channels)
		}
		value, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("%w: correction %q: %v", r4dcb08.ErrInvalidArgument, args[1], err)
		}

		client, conn, _, err := openClient()
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := client.WriteCorrection(deviceAddress, ch, value); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Write temperature correction %.1f to channel %d\n", value, ch)
		return nil
	},
}

var factoryResetCmd = &cobra.Command{
	Use:   "factory-reset",
	Short: "Restore factory settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, conn, _, err := openClient()
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := client.FactoryReset(deviceAddress); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Factory reset done, power cycle the module")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(correctionCmd)
	rootCmd.AddCommand(setAddressCmd)
	rootCmd.AddCommand(setBaudrateCmd)
	rootCmd.AddCommand(setCorrectionCmd)
	rootCmd.AddCommand(factoryResetCmd)
}

func parseAddress(s string) (byte, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < rtu.MinAddress || n > rtu.MaxAddress {
		return 0, fmt.Errorf("%w: address %q is not %d..%d", r4dcb08.ErrInvalidArgument, s, rtu.MinAddress, rtu.MaxAddress)
	}
	return byte(n), nil
}

// parseBaudCode accepts a register code or a rate in baud
func parseBaudCode(s string) (r4dcb08.BaudCode, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: baudrate %q: %v", r4dcb08.ErrInvalidArgument, s, err)
	}
	if n >= 0 && n <= 0xFF {
		if code := r4dcb08.BaudCode(n); code.Valid() {
			return code, nil
		}
	}
	return r4dcb08.BaudCodeForRate(n)
}
