// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package r4dcb08

import (
	"errors"
	"fmt"
)

var (
	// ErrSend means the request could not be written to the transport
	ErrSend = errors.New("r4dcb08: send failed")
	// ErrInvalidArgument is returned before any bus traffic for out-of-range input
	ErrInvalidArgument = errors.New("r4dcb08: invalid argument")
)

// OpError describes a failed device operation.
//
// Err matches one of rtu.ErrTimeout, rtu.ErrFraming, rtu.ErrCRC,
// rtu.ErrProtocol, rtu.ErrTransport, rtu.ErrPayloadTooLarge or ErrSend.
type OpError struct {
	Op      string
	Address byte
	Err     error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s (address %d): %v", e.Op, e.Address, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
