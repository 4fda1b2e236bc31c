// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package r4dcb08

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/tempbus/pkg/rtu"
)

func validAddress(addr byte) error {
	if addr < rtu.MinAddress || addr > rtu.MaxAddress {
		return fmt.Errorf("%w: device address %d is not %d..%d", ErrInvalidArgument, addr, rtu.MinAddress, rtu.MaxAddress)
	}
	return nil
}

// readRegisters reads count holding registers starting at register
func (c *Client) readRegisters(addr byte, register, count uint16, label string) ([]uint16, error) {
	if err := validAddress(addr); err != nil {
		return nil, err
	}
	frame, err := c.Transact(Request{
		Address:  addr,
		Function: rtu.FuncReadHoldingRegisters,
		Payload:  rtu.ReadRequestPayload(register, count),
		Shape:    rtu.ShapeReadHoldingRegisters,
		Verbose:  c.verbose,
		Label:    label,
	})
	if err != nil {
		return nil, err
	}
	regs, err := frame.Registers()
	if err == nil && len(regs) != int(count) {
		err = fmt.Errorf("%w: %d registers returned, requested %d", rtu.ErrProtocol, len(regs), count)
	}
	if err != nil {
		return nil, &OpError{Op: label, Address: addr, Err: err}
	}
	return regs, nil
}

// writeRegister writes one register and checks the echoed acknowledgement
func (c *Client) writeRegister(addr byte, register, value uint16, label string) error {
	if err := validAddress(addr); err != nil {
		return err
	}
	frame, err := c.Transact(Request{
		Address:  addr,
		Function: rtu.FuncWriteRegister,
		Payload:  rtu.WriteRequestPayload(register, value),
		Shape:    rtu.ShapeWriteAck,
		Verbose:  c.verbose,
		Label:    label,
	})
	if err != nil {
		return err
	}
	gotReg, gotVal, err := frame.WriteEcho()
	if err == nil && (gotReg != register || gotVal != value) {
		err = fmt.Errorf("%w: ack echoes 0x%04X=0x%04X, sent 0x%04X=0x%04X", rtu.ErrProtocol, gotReg, gotVal, register, value)
	}
	if err != nil {
		return &OpError{Op: label, Address: addr, Err: err}
	}
	return nil
}

// ReadTemperatures reads channels 1..n in degrees Celsius. Channels without
// a valid reading are filter.Unavailable.
func (c *Client) ReadTemperatures(addr byte, n int) ([]float64, error) {
	if n < 1 || n > Channels {
		return nil, fmt.Errorf("%w: channel count %d is not 1..%d", ErrInvalidArgument, n, Channels)
	}
	regs, err := c.readRegisters(addr, RegTemperature, uint16(n), "read temperature")
	if err != nil {
		return nil, err
	}
	temps := make([]float64, n)
	for i, r := range regs {
		temps[i] = DecodeTemperature(r)
	}
	return temps, nil
}

// ReadCorrections reads the correction of all eight channels in degrees Celsius
func (c *Client) ReadCorrections(addr byte) ([]float64, error) {
	regs, err := c.readRegisters(addr, RegCorrection, Channels, "read correction")
	if err != nil {
		return nil, err
	}
	corr := make([]float64, len(regs))
	for i, r := range regs {
		corr[i] = DecodeTenths(r)
	}
	return corr, nil
}

// WriteAddress changes the device address
func (c *Client) WriteAddress(addr, newAddr byte) error {
	if err := validAddress(newAddr); err != nil {
		return err
	}
	return c.writeRegister(addr, RegAddress, uint16(newAddr), "write address")
}

// WriteBaudrate sets the line speed the device uses after its next power
// cycle.
func (c *Client) WriteBaudrate(addr byte, code BaudCode) error {
	if !code.Valid() {
		return fmt.Errorf("%w: baud code %d is not 0..%d", ErrInvalidArgument, code, len(baudRates)-1)
	}
	return c.writeRegister(addr, RegBaudrate, uint16(code), "write baudrate")
}

// WriteCorrection sets the correction of channel ch (1..8) in degrees
// Celsius, rounded to a tenth.
func (c *Client) WriteCorrection(addr byte, ch int, celsius float64) error {
	if ch < 1 || ch > Channels {
		return fmt.Errorf("%w: channel %d is not 1..%d", ErrInvalidArgument, ch, Channels)
	}
	value, err := EncodeTenths(celsius)
	if err != nil {
		return err
	}
	return c.writeRegister(addr, RegCorrection+uint16(ch), value, "write correction")
}

// FactoryReset restores factory settings. The module reboots without
// acknowledging, so a timeout counts as success.
func (c *Client) FactoryReset(addr byte) error {
	err := c.writeRegister(addr, RegBaudrate, FactoryResetCode, "factory reset")
	if errors.Is(err, rtu.ErrTimeout) {
		c.logger.Info("no acknowledgement after factory reset, device is rebooting", "address", addr)
		return nil
	}
	return err
}
