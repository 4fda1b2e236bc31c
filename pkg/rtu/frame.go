// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtu

import (
	"encoding/binary"
	"fmt"
)

// Frame represents a Modbus RTU frame. The payload is every byte between
// the function code and the CRC.
type Frame struct {
	address  byte
	function byte
	payload  []byte
	crc      uint16
}

// NewFrame creates a frame and computes its CRC
func NewFrame(address, function byte, payload []byte) *Frame {
	p := make([]byte, len(payload))
	copy(p, payload)
	f := &Frame{address: address, function: function, payload: p}
	f.crc = CalculateCRC(f.body())
	return f
}

// body returns address, function and payload: the bytes covered by the CRC
func (f *Frame) body() []byte {
	b := make([]byte, 0, 2+len(f.payload))
	b = append(b, f.address, f.function)
	return append(b, f.payload...)
}

// Address returns the device address
func (f *Frame) Address() byte {
	return f.address
}

// Function returns the function code
func (f *Frame) Function() byte {
	return f.function
}

// Payload returns the bytes between the function code and the CRC
func (f *Frame) Payload() []byte {
	return f.payload
}

// CRC returns the frame's CRC value as carried on the wire
func (f *Frame) CRC() uint16 {
	return f.crc
}

// CRCValid reports whether the carried CRC matches the frame contents
func (f *Frame) CRCValid() bool {
	return CalculateCRC(f.body()) == f.crc
}

// Encode returns the wire bytes of the frame
func (f *Frame) Encode() ([]byte, error) {
	if len(f.payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(f.payload), MaxPayloadSize)
	}
	return binary.LittleEndian.AppendUint16(f.body(), f.crc), nil
}

// Registers returns the register words of a read holding registers
// response, checking the byte count against the payload.
func (f *Frame) Registers() ([]uint16, error) {
	if f.function != FuncReadHoldingRegisters {
		return nil, fmt.Errorf("%w: function 0x%02X is not a register read", ErrProtocol, f.function)
	}
	if len(f.payload) < 1 {
		return nil, fmt.Errorf("%w: missing byte count", ErrFraming)
	}
	count := int(f.payload[0])
	data := f.payload[1:]
	if count != len(data) || count%2 != 0 {
		return nil, fmt.Errorf("%w: byte count %d with %d data bytes", ErrFraming, count, len(data))
	}
	regs := make([]uint16, count/2)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return regs, nil
}

// WriteEcho returns the register and value echoed by a write acknowledgement
func (f *Frame) WriteEcho() (register, value uint16, err error) {
	if f.function != FuncWriteRegister {
		return 0, 0, fmt.Errorf("%w: function 0x%02X is not a register write", ErrProtocol, f.function)
	}
	if len(f.payload) != 4 {
		return 0, 0, fmt.Errorf("%w: write ack payload is %d bytes, want 4", ErrFraming, len(f.payload))
	}
	return binary.BigEndian.Uint16(f.payload[0:2]), binary.BigEndian.Uint16(f.payload[2:4]), nil
}
