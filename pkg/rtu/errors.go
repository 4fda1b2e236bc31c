// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtu

import (
	"errors"
	"fmt"
)

// Transaction outcomes. Callers test for them with errors.Is.
var (
	ErrTimeout         = errors.New("rtu: timeout")
	ErrFraming         = errors.New("rtu: framing error")
	ErrCRC             = errors.New("rtu: CRC mismatch")
	ErrProtocol        = errors.New("rtu: protocol error")
	ErrPayloadTooLarge = errors.New("rtu: payload too large")
	ErrTransport       = errors.New("rtu: transport error")
)

// CRCError reports a frame whose trailing CRC does not match its contents
type CRCError struct {
	Calculated uint16
	Received   uint16
}

func (e *CRCError) Error() string {
	return fmt.Sprintf("CRC mismatch: calculated 0x%04X, received 0x%04X", e.Calculated, e.Received)
}

// Is makes CRCError match ErrCRC
func (e *CRCError) Is(target error) bool {
	return target == ErrCRC
}

// ExceptionError is a Modbus exception response from the device
type ExceptionError struct {
	Function byte
	Code     byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception: function 0x%02X, code 0x%02X (%s)", e.Function, e.Code, exceptionName(e.Code))
}

// Is makes ExceptionError match ErrProtocol
func (e *ExceptionError) Is(target error) bool {
	return target == ErrProtocol
}

func exceptionName(code byte) string {
	switch code {
	case 0x01:
		return "illegal function"
	case 0x02:
		return "illegal data address"
	case 0x03:
		return "illegal data value"
	case 0x04:
		return "server device failure"
	case 0x06:
		return "server device busy"
	default:
		return "unknown"
	}
}
