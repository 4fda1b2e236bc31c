// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tempbus/pkg/filter"
	"github.com/Thermoquad/tempbus/pkg/r4dcb08"
)

var (
	readChannels int
	readInterval time.Duration
	readMedian   bool
	readMAF      int
	readOnce     bool
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read temperatures periodically",
	Long: `Read the first N channels of the module at a fixed interval and print one
timestamped line per sample until interrupted.

Unavailable channels (sensor missing or reading out of range) print as NaN.
The three-point median filter (--median) and the moving average (--maf N,
odd N from 3 to 15) can be combined; the median runs first.

With --once a single line of values is printed without header or timestamp.`,
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().IntVarP(&readChannels, "channels", "n", r4dcb08.Channels, "Number of channels to read (1-8)")
	readCmd.Flags().DurationVar(&readInterval, "interval", time.Second, "Sampling interval")
	readCmd.Flags().BoolVar(&readMedian, "median", false, "Apply three-point median filter")
	readCmd.Flags().IntVar(&readMAF, "maf", 0, "Apply moving average over N samples (odd, 3-15; 0 disables)")
	readCmd.Flags().BoolVar(&readOnce, "once", false, "Read once and exit")
}

// sampler reads and filters one sample per call
type sampler struct {
	client   *r4dcb08.Client
	address  byte
	channels int
	median   *filter.Median
	average  *filter.MovingAverage
	now      func() time.Time
}

func newSampler(client *r4dcb08.Client, address byte, channels int, median bool, maf int) (*sampler, error) {
	s := &sampler{client: client, address: address, channels: channels, now: time.Now}
	if median {
		m, err := filter.NewMedian(channels)
		if err != nil {
			return nil, err
		}
		s.median = m
	}
	if maf != 0 {
		a, err := filter.NewMovingAverage(maf, channels)
		if err != nil {
			return nil, fmt.Errorf("--maf %d: %w", maf, err)
		}
		s.average = a
	}
	return s, nil
}

func (s *sampler) next() (filter.Sample, error) {
	values, err := s.client.ReadTemperatures(s.address, s.channels)
	if err != nil {
		return filter.Sample{}, err
	}
	sample := filter.Sample{Time: s.now(), Values: values}

	if s.median != nil {
		if sample, err = s.median.Apply(sample); err != nil {
			return filter.Sample{}, err
		}
	}
	if s.average != nil {
		if sample, err = s.average.Apply(sample); err != nil {
			return filter.Sample{}, err
		}
	}
	return sample, nil
}

func runRead(cmd *cobra.Command, args []string) error {
	if readChannels < 1 || readChannels > r4dcb08.Channels {
		return fmt.Errorf("%w: channel count %d is not 1..%d", r4dcb08.ErrInvalidArgument, readChannels, r4dcb08.Channels)
	}
	if readInterval <= 0 {
		return fmt.Errorf("%w: interval must be positive", r4dcb08.ErrInvalidArgument)
	}

	client, conn, _, err := openClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	s, err := newSampler(client, deviceAddress, readChannels, readMedian, readMAF)
	if err != nil {
		return err
	}

	if readOnce {
		sample, err := s.next()
		if err != nil {
			return err
		}
		fmt.Println(formatValues(sample.Values))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return readLoop(ctx, os.Stdout, s, readInterval)
}

// readLoop prints samples until ctx is cancelled or a read fails
func readLoop(ctx context.Context, w io.Writer, s *sampler, interval time.Duration) error {
	if s.median != nil {
		fmt.Fprint(w, "# Active three-point median filter for all data ...\n#\n")
	}
	if s.average != nil {
		fmt.Fprintf(w, "# Active %d-point moving average filter for all data ...\n#\n", s.average.Window())
	}
	fmt.Fprintln(w, formatHeader(s.channels))

	for {
		sample, err := s.next()
		if err != nil {
			return fmt.Errorf("error reading temperature: %w", err)
		}
		fmt.Fprintln(w, formatSample(sample))

		select {
		case <-ctx.Done():
			fmt.Fprint(w, "\nMeasurement stopped\n")
			return nil
		case <-time.After(interval):
		}
	}
}
