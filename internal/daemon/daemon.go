// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package daemon runs the read, filter and publish loop that feeds
// temperatures from an R4DCB08 module to a publish sink.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Thermoquad/tempbus/internal/config"
	"github.com/Thermoquad/tempbus/pkg/filter"
)

// Status values published on the status topic
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusError   = "error"
)

// TimestampFormat is the layout of the timestamp topic
const TimestampFormat = "2006-01-02 15:04:05.00"

// maxSleepTick bounds a single sleep so cancellation is noticed promptly
const maxSleepTick = time.Second

// ErrErrorBudget stops the daemon after too many consecutive failures
var ErrErrorBudget = errors.New("daemon: consecutive error budget exhausted")

// Device is the temperature source
type Device interface {
	ReadTemperatures(addr byte, n int) ([]float64, error)
}

// Opener opens the bus. The closer releases the transport.
type Opener func() (Device, io.Closer, error)

// Sink publishes messages. Topics are relative to the sink's prefix.
type Sink interface {
	Publish(topic string, payload []byte, qos byte, retain bool) error
	IsConnected() bool
	Reconnect() error
}

// Options configures the loop
type Options struct {
	Address  byte
	Channels int
	Interval time.Duration

	QoS    byte
	Retain bool

	Median    bool
	MAF       bool
	MAFWindow int

	DiagnosticsEvery  int // cycles, 0 disables
	DiagnosticsFormat string
	ErrorBudget       int

	// ReopenDelay is waited between closing and reopening the transport
	ReopenDelay time.Duration
}

// OptionsFromConfig derives loop options from a validated configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Address:           cfg.Serial.Address,
		Channels:          cfg.Serial.Channels,
		Interval:          cfg.Daemon.Interval,
		QoS:               byte(cfg.MQTT.QoS),
		Retain:            cfg.MQTT.Retain,
		Median:            cfg.Filter.Median,
		MAF:               cfg.Filter.MAF,
		MAFWindow:         cfg.Filter.MAFWindow,
		DiagnosticsEvery:  cfg.Daemon.DiagnosticsEvery,
		DiagnosticsFormat: cfg.Daemon.DiagnosticsFormat,
		ErrorBudget:       cfg.Daemon.ErrorBudget,
		ReopenDelay:       time.Second,
	}
}

// Daemon owns the transport, the filter state and the counters of one
// running loop. It is driven by a single goroutine.
type Daemon struct {
	opts    Options
	open    Opener
	sink    Sink
	logger  *slog.Logger
	metrics *Metrics

	device Device
	closer io.Closer

	median  *filter.Median
	average *filter.MovingAverage
	backoff *Backoff

	started     time.Time
	cycles      uint64
	readsOK     uint64
	readsFailed uint64
	reconnects  uint64
	consecutive int

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New creates a daemon. A nil logger or metrics gets a default.
func New(opts Options, open Opener, sink Sink, logger *slog.Logger, metrics *Metrics) (*Daemon, error) {
	if opts.ErrorBudget < 1 {
		opts.ErrorBudget = config.DefaultErrorBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}

	d := &Daemon{
		opts:    opts,
		open:    open,
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		backoff: NewBackoff(MinBackoff, MaxBackoff),
		now:     time.Now,
		sleep:   sleepSliced,
	}

	var err error
	if opts.Median {
		if d.median, err = filter.NewMedian(opts.Channels); err != nil {
			return nil, err
		}
	}
	if opts.MAF {
		if d.average, err = filter.NewMovingAverage(opts.MAFWindow, opts.Channels); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Diagnostics returns the current counters
func (d *Daemon) Diagnostics() Diagnostics {
	var uptime uint64
	if !d.started.IsZero() {
		uptime = uint64(d.now().Sub(d.started) / time.Second)
	}
	return Diagnostics{
		UptimeSeconds:     uptime,
		ReadsTotal:        d.readsOK + d.readsFailed,
		ReadsOK:           d.readsOK,
		ReadsFailed:       d.readsFailed,
		Reconnects:        d.reconnects,
		ConsecutiveErrors: d.consecutive,
	}
}

// Run opens the transport and loops until ctx is cancelled or the error
// budget is exhausted. Failing to open the transport at startup is fatal.
func (d *Daemon) Run(ctx context.Context) error {
	d.started = d.now()

	if err := d.openDevice(); err != nil {
		return err
	}
	defer d.closeDevice()

	d.logger.Info("daemon started",
		"address", d.opts.Address,
		"channels", d.opts.Channels,
		"interval", d.opts.Interval,
		"median", d.opts.Median,
		"maf", d.opts.MAF)
	d.publishStatus(StatusOnline)

	var err error
	for err == nil {
		err = d.cycle(ctx)
	}

	if d.sink.IsConnected() {
		d.publishStatus(StatusOffline)
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		d.logger.Info("daemon stopped")
		return nil
	}
	d.logger.Error("daemon stopped", "error", err)
	return err
}

// cycle runs one iteration. A nil return means keep going.
func (d *Daemon) cycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !d.sink.IsConnected() {
		delay := d.backoff.Next()
		d.logger.Warn("publish connection lost, reconnecting", "delay", delay)
		if err := d.sleep(ctx, delay); err != nil {
			return err
		}
		if err := d.sink.Reconnect(); err != nil {
			d.logger.Error("reconnect failed", "error", err)
			return d.countFailure()
		}
		d.backoff.Reset()
		d.reconnects++
		d.metrics.reconnected()
		d.setConsecutive(0)
		d.logger.Info("reconnected")
		d.publishStatus(StatusOnline)
	}

	if err := d.readAndPublish(); err != nil {
		d.logger.Warn("temperature read failed",
			"error", err,
			"consecutive", d.consecutive+1,
			"budget", d.opts.ErrorBudget)
		if err := d.countFailure(); err != nil {
			return err
		}
		if err := d.reopen(ctx); err != nil {
			return err
		}
	} else {
		d.setConsecutive(0)
	}

	d.cycles++
	if d.opts.DiagnosticsEvery > 0 && d.cycles%uint64(d.opts.DiagnosticsEvery) == 0 {
		d.publishDiagnostics()
	}

	return d.sleep(ctx, d.opts.Interval)
}

func (d *Daemon) readAndPublish() error {
	if d.device == nil {
		if err := d.openDevice(); err != nil {
			d.readsFailed++
			d.metrics.readFailed()
			return err
		}
	}

	temps, err := d.device.ReadTemperatures(d.opts.Address, d.opts.Channels)
	if err != nil {
		d.readsFailed++
		d.metrics.readFailed()
		d.publishStatus(StatusError)
		return err
	}
	d.readsOK++
	d.metrics.readOK()

	sample := d.applyFilters(filter.Sample{Time: d.now(), Values: temps})

	for i, v := range sample.Values {
		d.publish(fmt.Sprintf("temperature/ch%d", i+1), formatTemperature(v))
		d.metrics.setTemperature(i+1, v)
	}
	d.publish("timestamp", sample.Time.Format(TimestampFormat))
	d.publishStatus(StatusOnline)

	d.logger.Debug("published", "time", sample.Time.Format(TimestampFormat), "values", sample.Values)
	return nil
}

// applyFilters runs the median filter, then the moving average. A filter
// error leaves the sample as it was.
func (d *Daemon) applyFilters(s filter.Sample) filter.Sample {
	if d.median != nil {
		out, err := d.median.Apply(s)
		if err != nil {
			d.logger.Warn("median filter failed", "error", err)
		} else {
			s = out
		}
	}
	if d.average != nil {
		out, err := d.average.Apply(s)
		if err != nil {
			d.logger.Warn("moving average failed", "error", err)
		} else {
			s = out
		}
	}
	return s
}

func (d *Daemon) countFailure() error {
	d.setConsecutive(d.consecutive + 1)
	if d.consecutive >= d.opts.ErrorBudget {
		return fmt.Errorf("%w: %d consecutive failures", ErrErrorBudget, d.consecutive)
	}
	return nil
}

func (d *Daemon) setConsecutive(n int) {
	d.consecutive = n
	d.metrics.setConsecutive(n)
}

func (d *Daemon) openDevice() error {
	dev, closer, err := d.open()
	if err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	d.device, d.closer = dev, closer
	return nil
}

func (d *Daemon) closeDevice() {
	if d.closer != nil {
		if err := d.closer.Close(); err != nil {
			d.logger.Debug("close transport", "error", err)
		}
	}
	d.device, d.closer = nil, nil
}

// reopen closes the transport and opens it again. Failing to reopen is not
// fatal; the next cycle retries.
func (d *Daemon) reopen(ctx context.Context) error {
	d.closeDevice()
	if err := d.sleep(ctx, d.opts.ReopenDelay); err != nil {
		return err
	}
	if err := d.openDevice(); err != nil {
		d.logger.Error("failed to reopen transport", "error", err)
	}
	return nil
}

func (d *Daemon) publishDiagnostics() {
	payload, err := d.Diagnostics().Encode(d.opts.DiagnosticsFormat)
	if err != nil {
		d.logger.Warn("encode diagnostics", "error", err)
		return
	}
	if err := d.sink.Publish("diagnostics", payload, d.opts.QoS, false); err != nil {
		d.logger.Warn("publish failed", "topic", "diagnostics", "error", err)
	}
}

func (d *Daemon) publishStatus(status string) {
	if err := d.sink.Publish("status", []byte(status), d.opts.QoS, true); err != nil {
		d.logger.Warn("publish failed", "topic", "status", "error", err)
	}
}

func (d *Daemon) publish(topic, payload string) {
	if err := d.sink.Publish(topic, []byte(payload), d.opts.QoS, d.opts.Retain); err != nil {
		d.logger.Warn("publish failed", "topic", topic, "error", err)
	}
}

func formatTemperature(v float64) string {
	if filter.IsUnavailable(v) {
		return "NaN"
	}
	return fmt.Sprintf("%.1f", v)
}

// sleepSliced waits d in ticks of at most one second, returning early with
// the context error on cancellation.
func sleepSliced(ctx context.Context, d time.Duration) error {
	for d > 0 {
		tick := min(d, maxSleepTick)
		t := time.NewTimer(tick)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		d -= tick
	}
	return ctx.Err()
}
