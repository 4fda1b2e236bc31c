// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package r4dcb08 talks to R4DCB08 eight-channel temperature modules over
// Modbus RTU. Every device operation is a single request/response
// transaction routed through Client.Transact.
package r4dcb08

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Thermoquad/tempbus/pkg/rtu"
)

// inputResetter is implemented by transports that can discard unread input
type inputResetter interface {
	ResetInputBuffer() error
}

// Request is one Modbus transaction
type Request struct {
	Address  byte
	Function byte
	Payload  []byte
	Shape    rtu.Shape

	// Timeout bounds every read step; zero means rtu.DefaultTimeout
	Timeout time.Duration

	// Verbose prints "<Label> ... OK" after a successful transaction
	Verbose bool
	// Quiet suppresses per-attempt debug logging
	Quiet bool
	Label string
}

// Client runs transactions on a single bus. It is safe for use by multiple
// goroutines; transactions are serialized.
type Client struct {
	mu        sync.Mutex
	transport rtu.Transport
	receiver  *rtu.Receiver
	stats     *Statistics

	out       io.Writer
	logger    *slog.Logger
	verbose   bool
	scanDelay time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger for transaction diagnostics
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithOutput sets where success confirmations are printed
func WithOutput(w io.Writer) Option {
	return func(c *Client) { c.out = w }
}

// WithVerbose makes every device operation print a confirmation
func WithVerbose(v bool) Option {
	return func(c *Client) { c.verbose = v }
}

// WithTurnaroundDelay overrides the pause after each successful response
func WithTurnaroundDelay(d time.Duration) Option {
	return func(c *Client) { c.receiver.TurnaroundDelay = d }
}

// NewClient creates a client on the given transport
func NewClient(t rtu.Transport, opts ...Option) *Client {
	c := &Client{
		transport: t,
		receiver:  rtu.NewReceiver(t),
		stats:     NewStatistics(),
		out:       io.Discard,
		logger:    slog.Default(),
		scanDelay: ScanDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stats returns a snapshot of the transaction statistics
func (c *Client) Stats() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := *c.stats
	s.CalculateRates()
	return s
}

// ResetStats clears the transaction statistics
func (c *Client) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Reset()
}

// Transact sends one request and receives its response.
//
// Failures are returned as *OpError. On a CRC or function mismatch the
// received frame is returned alongside the error for diagnostics.
func (c *Client) Transact(req Request) (*rtu.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	op := req.Label
	if op == "" {
		op = rtu.FormatFunction(req.Function)
	}
	fail := func(err error) error {
		c.stats.Record(err)
		return &OpError{Op: op, Address: req.Address, Err: err}
	}

	wire, err := rtu.Encode(req.Address, req.Function, req.Payload)
	if err != nil {
		return nil, fail(err)
	}

	if r, ok := c.transport.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			c.logger.Debug("failed to reset input buffer", "error", err)
		}
	}

	if !req.Quiet {
		c.logger.Debug("request", "op", op, "address", req.Address, "frame", rtu.FormatRaw(wire))
	}

	if _, err := c.transport.Write(wire); err != nil {
		return nil, fail(fmt.Errorf("%w: %v", ErrSend, err))
	}

	frame, err := c.receiver.Receive(req.Shape, req.Timeout)
	var exc *rtu.ExceptionError
	if errors.As(err, &exc) {
		if raw := c.receiver.LastRaw(); len(raw) > 0 && raw[0] != req.Address {
			err = fmt.Errorf("%w: exception from address %d", rtu.ErrProtocol, raw[0])
		}
	}
	if err != nil {
		if !req.Quiet {
			c.logger.Debug("response failed",
				"op", op,
				"address", req.Address,
				"state", c.receiver.State().String(),
				"raw", rtu.FormatRaw(c.receiver.LastRaw()),
				"error", err)
		}
		return frame, fail(err)
	}

	if frame.Address() != req.Address {
		return frame, fail(fmt.Errorf("%w: response from address %d", rtu.ErrProtocol, frame.Address()))
	}

	c.stats.Record(nil)
	if !req.Quiet {
		c.logger.Debug("response", "op", op, "address", req.Address, "frame", rtu.FormatSummary(frame))
	}
	if req.Verbose {
		fmt.Fprintf(c.out, "%s ... OK\n", op)
	}
	return frame, nil
}
