// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtu

import "fmt"

// Shape selects how a response frame is sized and validated. The caller picks
// it per transaction; it is never inferred from the received bytes.
type Shape uint8

const (
	// ShapeReadHoldingRegisters is a 0x03 response: address, function,
	// byte count, data, CRC. Its length is driven by the byte count.
	ShapeReadHoldingRegisters Shape = iota + 1
	// ShapeWriteAck is a 0x06 acknowledgement: address, function, echoed
	// register, echoed value, CRC. Always 8 bytes.
	ShapeWriteAck
)

// String returns the shape name
func (s Shape) String() string {
	switch s {
	case ShapeReadHoldingRegisters:
		return "READ_HOLDING_REGISTERS"
	case ShapeWriteAck:
		return "WRITE_ACK"
	default:
		return fmt.Sprintf("SHAPE(%d)", uint8(s))
	}
}

// Valid reports whether s is a known shape
func (s Shape) Valid() bool {
	return s == ShapeReadHoldingRegisters || s == ShapeWriteAck
}

// Function returns the function code a response of this shape carries
func (s Shape) Function() byte {
	switch s {
	case ShapeReadHoldingRegisters:
		return FuncReadHoldingRegisters
	case ShapeWriteAck:
		return FuncWriteRegister
	default:
		return 0
	}
}

// HeaderLen is the number of leading bytes needed before FrameLen can size
// the frame.
func (s Shape) HeaderLen() int {
	if s == ShapeReadHoldingRegisters {
		return readHeaderLen
	}
	return 1
}

// FrameLen returns the total frame length, CRC included, given at least
// HeaderLen leading bytes of the frame.
func (s Shape) FrameLen(head []byte) (int, error) {
	switch s {
	case ShapeReadHoldingRegisters:
		if len(head) < readHeaderLen {
			return 0, fmt.Errorf("%w: %d header bytes, need %d", ErrFraming, len(head), readHeaderLen)
		}
		return int(head[2]) + readHeaderLen + CRCSize, nil
	case ShapeWriteAck:
		return writeAckSize, nil
	default:
		return 0, fmt.Errorf("%w: unsupported response shape %s", ErrProtocol, s)
	}
}
