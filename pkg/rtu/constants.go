// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rtu implements the subset of Modbus RTU spoken by the R4DCB08
// temperature module: frame encoding, CRC16, response decoding and a
// timeout-bounded receive state machine.
//
// Only function codes 0x03 (read holding registers) and 0x06 (write single
// register) are supported.
package rtu

import "time"

// Function codes
const (
	FuncReadHoldingRegisters = 0x03
	FuncWriteRegister        = 0x06

	// ExceptionFlag is set in the function byte of a Modbus exception response.
	ExceptionFlag = 0x80
)

// Frame size limits
const (
	MaxPayloadSize = 253
	MaxFrameSize   = MaxPayloadSize + 4 // address + function + payload + CRC
	CRCSize        = 2

	writeAckSize  = 8
	exceptionSize = 5
	readHeaderLen = 3 // address + function + byte count
)

// Device address range
const (
	MinAddress = 1
	MaxAddress = 254
)

// CRC-16/MODBUS configuration
const (
	crcPolynomial = 0xA001
	crcInitial    = 0xFFFF
)

// Timing
const (
	// DefaultTimeout bounds every read step of a normal transaction.
	DefaultTimeout = 500 * time.Millisecond
	// ScanTimeout bounds every read step of a bus probe.
	ScanTimeout = 100 * time.Millisecond
	// TurnaroundDelay follows every successful receive.
	TurnaroundDelay = 8 * time.Millisecond

	drainTimeout   = 20 * time.Millisecond
	drainMaxRounds = 64
)
