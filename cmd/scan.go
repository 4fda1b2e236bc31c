// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tempbus/pkg/rtu"
)

var (
	scanFrom     uint8
	scanTo       uint8
	scanProgress bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the bus for responding devices",
	Long: `Probe every address in [--from, --to] with a short timeout and list the
addresses that answer. A device answering with a Modbus exception counts as
present.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().Uint8Var(&scanFrom, "from", rtu.MinAddress, "First address to probe")
	scanCmd.Flags().Uint8Var(&scanTo, "to", rtu.MaxAddress, "Last address to probe")
	scanCmd.Flags().BoolVar(&scanProgress, "progress", true, "Show probe progress on stderr")
}

func runScan(cmd *cobra.Command, args []string) error {
	client, conn, desc, err := openClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Scanning addresses %d..%d on %s\n", scanFrom, scanTo, desc)

	var progress func(addr byte, present bool)
	if scanProgress {
		progress = func(addr byte, present bool) {
			if present {
				fmt.Fprintf(os.Stderr, "\r  %3d: found\n", addr)
			} else {
				fmt.Fprintf(os.Stderr, "\r  %3d", addr)
			}
		}
	}

	found, err := client.Scan(ctx, scanFrom, scanTo, progress)
	if scanProgress {
		fmt.Fprint(os.Stderr, "\r     \r")
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "Scan interrupted")
		err = nil
	}
	printScanResult(cmd.OutOrStdout(), found)
	return err
}

func printScanResult(w io.Writer, found []byte) {
	if len(found) == 0 {
		fmt.Fprintln(w, "No devices found.")
		return
	}
	fmt.Fprintf(w, "Found %d device(s):\n", len(found))
	for _, addr := range found {
		fmt.Fprintf(w, "  %d\n", addr)
	}
}
