// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtu

import (
	"encoding/binary"
	"fmt"
)

// Decode decodes a complete response frame of the given shape.
//
// The length of raw must match the length the shape expects. On a CRC
// mismatch the decoded frame is returned together with a *CRCError so the
// caller can print it. A function code other than the shape's yields
// ErrProtocol.
func Decode(raw []byte, shape Shape) (*Frame, error) {
	if !shape.Valid() {
		return nil, fmt.Errorf("%w: unsupported response shape %s", ErrProtocol, shape)
	}
	if len(raw) < shape.HeaderLen() {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the %s header", ErrFraming, len(raw), shape)
	}

	expected, err := shape.FrameLen(raw)
	if err != nil {
		return nil, err
	}
	if len(raw) != expected {
		return nil, fmt.Errorf("%w: %s frame is %d bytes, expected %d", ErrFraming, shape, len(raw), expected)
	}

	body := raw[:expected-CRCSize]
	payload := make([]byte, len(body)-2)
	copy(payload, body[2:])

	frame := &Frame{
		address:  raw[0],
		function: raw[1],
		payload:  payload,
		crc:      binary.LittleEndian.Uint16(raw[expected-CRCSize : expected]),
	}

	if calculated := CalculateCRC(body); calculated != frame.crc {
		return frame, &CRCError{Calculated: calculated, Received: frame.crc}
	}

	if frame.function != shape.Function() {
		return frame, fmt.Errorf("%w: function 0x%02X in %s response", ErrProtocol, frame.function, shape)
	}

	return frame, nil
}

// decodeException validates a 5-byte exception frame and returns the
// corresponding error.
func decodeException(raw []byte) error {
	if len(raw) != exceptionSize {
		return fmt.Errorf("%w: exception frame is %d bytes, expected %d", ErrFraming, len(raw), exceptionSize)
	}
	received := binary.LittleEndian.Uint16(raw[3:5])
	if calculated := CalculateCRC(raw[:3]); calculated != received {
		return &CRCError{Calculated: calculated, Received: received}
	}
	return &ExceptionError{Function: raw[1] &^ ExceptionFlag, Code: raw[2]}
}
