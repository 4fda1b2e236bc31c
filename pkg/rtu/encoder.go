// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtu

import (
	"encoding/binary"
	"fmt"
)

// Encode creates a complete wire-formatted RTU frame: address, function,
// payload and the little-endian CRC of those bytes.
func Encode(address, function byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	data := make([]byte, 0, len(payload)+4)
	data = append(data, address, function)
	data = append(data, payload...)

	crc := CalculateCRC(data)

	// CRC goes out low byte first
	return binary.LittleEndian.AppendUint16(data, crc), nil
}

// MustEncode is Encode for payloads known to fit.
// Panics on encoding error (use Encode for error handling).
func MustEncode(address, function byte, payload []byte) []byte {
	data, err := Encode(address, function, payload)
	if err != nil {
		panic(fmt.Sprintf("rtu: encode error: %v", err))
	}
	return data
}

// ReadRequestPayload builds the 0x03 request payload: start register and
// register count, both big-endian.
func ReadRequestPayload(register, count uint16) []byte {
	p := make([]byte, 4)
	binary.BigEndian.PutUint16(p[0:2], register)
	binary.BigEndian.PutUint16(p[2:4], count)
	return p
}

// WriteRequestPayload builds the 0x06 request payload: register and value,
// both big-endian.
func WriteRequestPayload(register, value uint16) []byte {
	p := make([]byte, 4)
	binary.BigEndian.PutUint16(p[0:2], register)
	binary.BigEndian.PutUint16(p[2:4], value)
	return p
}
