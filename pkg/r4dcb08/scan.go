// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package r4dcb08

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/tempbus/pkg/rtu"
)

// ScanDelay is the pause after every probe, answered or not
const ScanDelay = 5 * time.Millisecond

// ScanProgress is called after each probed address
type ScanProgress func(addr byte, present bool)

// Probe reports whether a device answers at addr. Any CRC-valid response
// counts, including a Modbus exception. Silence and corrupt responses mean
// absent; only transport failures are returned as errors.
func (c *Client) Probe(addr byte) (bool, error) {
	if err := validAddress(addr); err != nil {
		return false, err
	}
	_, err := c.Transact(Request{
		Address:  addr,
		Function: rtu.FuncReadHoldingRegisters,
		Payload:  rtu.ReadRequestPayload(RegTemperature, 1),
		Shape:    rtu.ShapeReadHoldingRegisters,
		Timeout:  rtu.ScanTimeout,
		Quiet:    true,
		Label:    "probe",
	})

	var exc *rtu.ExceptionError
	switch {
	case err == nil, errors.As(err, &exc):
		return true, nil
	case errors.Is(err, ErrSend), errors.Is(err, rtu.ErrTransport):
		return false, err
	default:
		return false, nil
	}
}

// Scan probes every address in [from, to] and returns the responding ones
// in ascending order. Zero bounds default to the full address range. An
// empty bus is not an error.
func (c *Client) Scan(ctx context.Context, from, to byte, progress ScanProgress) ([]byte, error) {
	if from == 0 {
		from = rtu.MinAddress
	}
	if to == 0 {
		to = rtu.MaxAddress
	}
	if err := validAddress(from); err != nil {
		return nil, err
	}
	if err := validAddress(to); err != nil {
		return nil, err
	}
	if from > to {
		return nil, fmt.Errorf("%w: scan range %d..%d is empty", ErrInvalidArgument, from, to)
	}

	found := []byte{}
	for addr := int(from); addr <= int(to); addr++ {
		if err := ctx.Err(); err != nil {
			return found, err
		}

		present, err := c.Probe(byte(addr))
		if err != nil {
			return found, err
		}
		if present {
			found = append(found, byte(addr))
			c.logger.Debug("device found", "address", addr)
		}
		if progress != nil {
			progress(byte(addr), present)
		}

		if err := sleepContext(ctx, c.scanDelay); err != nil {
			return found, err
		}
	}
	return found, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
