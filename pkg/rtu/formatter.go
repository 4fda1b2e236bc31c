// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtu

import (
	"fmt"
	"strings"
)

// FormatFunction returns the human-readable name for a function code
func FormatFunction(function byte) string {
	if function&ExceptionFlag != 0 {
		return "EXCEPTION(" + FormatFunction(function&^ExceptionFlag) + ")"
	}
	switch function {
	case FuncReadHoldingRegisters:
		return "READ_HOLDING_REGISTERS"
	case FuncWriteRegister:
		return "WRITE_REGISTER"
	default:
		return "UNKNOWN"
	}
}

// FormatFrame formats a frame as a hex dump with a column header
func FormatFrame(f *Frame) string {
	var b strings.Builder
	b.WriteString("ADR INS DATA... CRC CRC\n")
	fmt.Fprintf(&b, "%02X  %02X  ", f.address, f.function)
	for _, d := range f.payload {
		fmt.Fprintf(&b, "%02X ", d)
	}
	fmt.Fprintf(&b, "%02X  %02X\n", f.crc&0xFF, f.crc>>8)
	return b.String()
}

// FormatSummary returns a one-line description of a frame
func FormatSummary(f *Frame) string {
	crc := "OK"
	if !f.CRCValid() {
		crc = "BAD"
	}
	return fmt.Sprintf("%s (0x%02X) addr=%d len=%d crc=0x%04X [%s]",
		FormatFunction(f.function), f.function, f.address, len(f.payload), f.crc, crc)
}

// FormatRaw formats raw bytes as a hex dump, 16 bytes per line
func FormatRaw(raw []byte) string {
	if len(raw) == 0 {
		return "(no bytes)"
	}
	var b strings.Builder
	for i, d := range raw {
		if i > 0 && i%16 == 0 {
			b.WriteString("\n")
		} else if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%02X", d)
	}
	return b.String()
}
