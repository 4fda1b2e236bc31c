// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Thermoquad/tempbus/pkg/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInterval = 10 * time.Second

var errRead = errors.New("read temperature (address 1): rtu: timeout")

type message struct {
	topic   string
	payload string
	retain  bool
}

type fakeSink struct {
	messages      []message
	connected     bool
	reconnectErrs []error
	reconnects    int
}

func (s *fakeSink) Publish(topic string, payload []byte, _ byte, retain bool) error {
	if !s.connected {
		return errors.New("not connected")
	}
	s.messages = append(s.messages, message{topic: topic, payload: string(payload), retain: retain})
	return nil
}

func (s *fakeSink) IsConnected() bool {
	return s.connected
}

func (s *fakeSink) Reconnect() error {
	s.reconnects++
	if len(s.reconnectErrs) > 0 {
		err := s.reconnectErrs[0]
		s.reconnectErrs = s.reconnectErrs[1:]
		if err != nil {
			return err
		}
	}
	s.connected = true
	return nil
}

func (s *fakeSink) payloads(topic string) []string {
	var out []string
	for _, m := range s.messages {
		if m.topic == topic {
			out = append(out, m.payload)
		}
	}
	return out
}

type reading struct {
	values []float64
	err    error
}

// fakeDevice replays readings; the last one repeats
type fakeDevice struct {
	readings []reading
	calls    int
}

func (f *fakeDevice) ReadTemperatures(addr byte, n int) ([]float64, error) {
	r := f.readings[min(f.calls, len(f.readings)-1)]
	f.calls++
	return r.values, r.err
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

type harness struct {
	d      *Daemon
	dev    *fakeDevice
	sink   *fakeSink
	opens  int
	closes int
	sleeps []time.Duration
}

// newHarness builds a daemon whose clock is fixed and whose sleeps return
// immediately. The context is cancelled after stopAfter interval sleeps.
func newHarness(t *testing.T, opts Options, dev *fakeDevice, stopAfter int) (*harness, context.Context) {
	t.Helper()
	if opts.Channels == 0 {
		opts.Channels = 1
	}
	opts.Address = 1
	opts.Interval = testInterval
	opts.ReopenDelay = time.Second

	h := &harness{dev: dev, sink: &fakeSink{connected: true}}
	open := func() (Device, io.Closer, error) {
		h.opens++
		return h.dev, closerFunc(func() error { h.closes++; return nil }), nil
	}

	d, err := New(opts, open, h.sink, slog.New(slog.NewTextHandler(io.Discard, nil)), NewMetrics())
	require.NoError(t, err)
	h.d = d

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	start := time.Date(2025, 4, 17, 8, 30, 0, 0, time.UTC)
	now := start
	d.now = func() time.Time { return now }

	intervals := 0
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		h.sleeps = append(h.sleeps, dur)
		now = now.Add(dur)
		if dur == testInterval {
			intervals++
			if intervals >= stopAfter {
				cancel()
			}
		}
		return ctx.Err()
	}
	return h, ctx
}

func TestRun_PublishesReadings(t *testing.T) {
	dev := &fakeDevice{readings: []reading{{values: []float64{21.5, filter.Unavailable, -3.04}}}}
	h, ctx := newHarness(t, Options{Channels: 3, Retain: true}, dev, 1)

	require.NoError(t, h.d.Run(ctx))

	assert.Equal(t, []string{"21.5"}, h.sink.payloads("temperature/ch1"))
	assert.Equal(t, []string{"NaN"}, h.sink.payloads("temperature/ch2"))
	assert.Equal(t, []string{"-3.0"}, h.sink.payloads("temperature/ch3"))
	assert.Equal(t, []string{"2025-04-17 08:30:00.00"}, h.sink.payloads("timestamp"))
	assert.Equal(t, []string{StatusOnline, StatusOnline, StatusOffline}, h.sink.payloads("status"))

	for _, m := range h.sink.messages {
		assert.True(t, m.retain, "topic %s", m.topic)
	}
	assert.Equal(t, 1, h.opens)
	assert.Equal(t, 1, h.closes, "transport closed on exit")
}

func TestRun_OpenFailureIsFatal(t *testing.T) {
	sink := &fakeSink{connected: true}
	open := func() (Device, io.Closer, error) { return nil, nil, errors.New("no such device") }

	d, err := New(Options{Channels: 1}, open, sink, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	require.NoError(t, err)

	err = d.Run(context.Background())
	assert.ErrorContains(t, err, "open transport")
	assert.Empty(t, sink.messages)
}

func TestRun_StopsAfterErrorBudget(t *testing.T) {
	dev := &fakeDevice{readings: []reading{{err: errRead}}}
	h, ctx := newHarness(t, Options{ErrorBudget: 10}, dev, 1000)

	err := h.d.Run(ctx)
	require.ErrorIs(t, err, ErrErrorBudget)

	assert.Equal(t, 10, dev.calls)
	assert.Equal(t, 10, h.d.Diagnostics().ConsecutiveErrors)
	assert.Equal(t, uint64(10), h.d.Diagnostics().ReadsFailed)
	assert.Equal(t, 10, h.opens, "initial open plus a reopen after each of the first 9 failures")
	assert.Len(t, h.sink.payloads("status"), 1+10+1, "online, one error per failure, offline")
}

func TestRun_SuccessResetsConsecutiveErrors(t *testing.T) {
	var readings []reading
	for i := 0; i < 9; i++ {
		readings = append(readings, reading{err: errRead})
	}
	readings = append(readings, reading{values: []float64{20}})
	dev := &fakeDevice{readings: readings}

	h, ctx := newHarness(t, Options{ErrorBudget: 10}, dev, 12)
	require.NoError(t, h.d.Run(ctx))

	diag := h.d.Diagnostics()
	assert.Equal(t, 0, diag.ConsecutiveErrors)
	assert.Equal(t, uint64(9), diag.ReadsFailed)
	assert.Equal(t, uint64(3), diag.ReadsOK)
	assert.Equal(t, 12, dev.calls)
}

func TestRun_ReconnectBackoff(t *testing.T) {
	dev := &fakeDevice{readings: []reading{{values: []float64{20}}}}
	h, ctx := newHarness(t, Options{}, dev, 1)
	h.sink.connected = false
	fail := errors.New("connection refused")
	h.sink.reconnectErrs = []error{fail, fail, fail, nil}

	require.NoError(t, h.d.Run(ctx))

	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, testInterval,
	}, h.sleeps)
	assert.Equal(t, 4, h.sink.reconnects)
	assert.Equal(t, uint64(1), h.d.Diagnostics().Reconnects)
	assert.Equal(t, 0, h.d.Diagnostics().ConsecutiveErrors)
	assert.Equal(t, []string{"20.0"}, h.sink.payloads("temperature/ch1"))
}

func TestRun_ReconnectFailuresCountAgainstBudget(t *testing.T) {
	dev := &fakeDevice{readings: []reading{{values: []float64{20}}}}
	h, ctx := newHarness(t, Options{ErrorBudget: 10}, dev, 1000)
	h.sink.connected = false
	for i := 0; i < 20; i++ {
		h.sink.reconnectErrs = append(h.sink.reconnectErrs, errors.New("connection refused"))
	}

	err := h.d.Run(ctx)
	require.ErrorIs(t, err, ErrErrorBudget)
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
		32 * time.Second, 60 * time.Second, 60 * time.Second, 60 * time.Second, 60 * time.Second,
	}, h.sleeps)
	assert.Zero(t, dev.calls)
}

func TestRun_Diagnostics(t *testing.T) {
	dev := &fakeDevice{readings: []reading{{values: []float64{20}}, {err: errRead}, {values: []float64{21}}}}
	h, ctx := newHarness(t, Options{DiagnosticsEvery: 2, DiagnosticsFormat: FormatJSON}, dev, 4)

	require.NoError(t, h.d.Run(ctx))

	payloads := h.sink.payloads("diagnostics")
	require.Len(t, payloads, 2)

	var diag Diagnostics
	require.NoError(t, json.Unmarshal([]byte(payloads[0]), &diag))
	assert.Equal(t, uint64(2), diag.ReadsTotal)
	assert.Equal(t, uint64(1), diag.ReadsOK)
	assert.Equal(t, uint64(1), diag.ReadsFailed)
	assert.Equal(t, 1, diag.ConsecutiveErrors)
	assert.Equal(t, uint64(11), diag.UptimeSeconds, "one interval plus the reopen delay")
}

func TestRun_DiagnosticsDisabled(t *testing.T) {
	dev := &fakeDevice{readings: []reading{{values: []float64{20}}}}
	h, ctx := newHarness(t, Options{DiagnosticsEvery: 0}, dev, 5)

	require.NoError(t, h.d.Run(ctx))
	assert.Empty(t, h.sink.payloads("diagnostics"))
}

func TestRun_MedianThenAverage(t *testing.T) {
	var readings []reading
	for _, v := range []float64{5, 5, 100, 5, 5, 5} {
		readings = append(readings, reading{values: []float64{v}})
	}
	dev := &fakeDevice{readings: readings}
	h, ctx := newHarness(t, Options{Median: true, MAF: true, MAFWindow: 3}, dev, 6)

	require.NoError(t, h.d.Run(ctx))
	for _, p := range h.sink.payloads("temperature/ch1") {
		assert.Equal(t, "5.0", p)
	}
}

func TestNew_InvalidFilterWindow(t *testing.T) {
	_, err := New(Options{Channels: 1, MAF: true, MAFWindow: 4}, nil, &fakeSink{}, nil, nil)
	assert.ErrorIs(t, err, filter.ErrWindowSize)
}

func TestSleepSliced(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleepSliced(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	assert.NoError(t, sleepSliced(context.Background(), 0))
	assert.NoError(t, sleepSliced(context.Background(), 5*time.Millisecond))
}
