// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtu

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// Transport is the byte channel to the bus.
//
// ReadTimeout reads up to len(p) bytes, waiting at most timeout for data.
// It returns 0, nil when nothing arrived in time.
type Transport interface {
	io.Writer
	ReadTimeout(p []byte, timeout time.Duration) (int, error)
}

// ReceiveState is a state of the receive state machine
type ReceiveState int

// Receive states
const (
	StateIdle ReceiveState = iota
	StateWaitAddress
	StateWaitHeader
	StateWaitBody
	StateComplete
	StateTimeout
	StateFramingError
	StateCRCError
	StateProtocolError
	StateTransportError
)

func (s ReceiveState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateWaitAddress:
		return "WAIT_ADDRESS"
	case StateWaitHeader:
		return "WAIT_HEADER"
	case StateWaitBody:
		return "WAIT_BODY"
	case StateComplete:
		return "COMPLETE"
	case StateTimeout:
		return "TIMEOUT"
	case StateFramingError:
		return "FRAMING_ERROR"
	case StateCRCError:
		return "CRC_ERROR"
	case StateProtocolError:
		return "PROTOCOL_ERROR"
	case StateTransportError:
		return "TRANSPORT_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Receiver reads one response frame at a time from a Transport
type Receiver struct {
	// TurnaroundDelay is slept after every successful receive so the
	// device is ready for the next request.
	TurnaroundDelay time.Duration

	transport Transport
	state     ReceiveState
	buf       [MaxFrameSize]byte
	n         int
	sleep     func(time.Duration)
}

// NewReceiver creates a receiver on the given transport
func NewReceiver(t Transport) *Receiver {
	return &Receiver{
		TurnaroundDelay: TurnaroundDelay,
		transport:       t,
		state:           StateIdle,
		sleep:           time.Sleep,
	}
}

// State returns the state the last Receive call ended in
func (r *Receiver) State() ReceiveState {
	return r.state
}

// LastRaw returns a copy of the bytes collected by the last Receive call
func (r *Receiver) LastRaw() []byte {
	raw := make([]byte, r.n)
	copy(raw, r.buf[:r.n])
	return raw
}

// Receive reads one response frame of the given shape.
//
// Every read step waits at most timeout. Silence before the address byte
// and a stall in the middle of a frame both end in ErrTimeout; there are no
// retries. On a CRC mismatch the frame is returned along with the error.
func (r *Receiver) Receive(shape Shape, timeout time.Duration) (*Frame, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r.n = 0

	if !shape.Valid() {
		r.state = StateProtocolError
		return nil, fmt.Errorf("%w: unsupported response shape %s", ErrProtocol, shape)
	}

	r.state = StateWaitAddress
	want := 0

	for {
		switch r.state {
		case StateWaitAddress:
			if err := r.fill(1, timeout); err != nil {
				return nil, r.fail(err)
			}
			if shape == ShapeReadHoldingRegisters {
				r.state = StateWaitHeader
			} else {
				want = writeAckSize
				r.state = StateWaitBody
			}

		case StateWaitHeader:
			// function + byte count
			if err := r.fill(readHeaderLen, timeout); err != nil {
				return nil, r.fail(err)
			}
			if r.buf[1]&ExceptionFlag != 0 {
				want = exceptionSize
			} else {
				n, err := shape.FrameLen(r.buf[:r.n])
				if err != nil {
					return nil, r.fail(err)
				}
				want = n
			}
			if want > len(r.buf) {
				return nil, r.fail(fmt.Errorf("%w: declared length %d exceeds max frame %d", ErrFraming, want, MaxFrameSize))
			}
			r.state = StateWaitBody

		case StateWaitBody:
			if shape == ShapeWriteAck && r.n < 2 {
				if err := r.fill(2, timeout); err != nil {
					return nil, r.fail(err)
				}
				if r.buf[1]&ExceptionFlag != 0 {
					want = exceptionSize
				}
			}
			if err := r.fill(want, timeout); err != nil {
				return nil, r.fail(err)
			}

			raw := r.buf[:r.n]
			if raw[1]&ExceptionFlag != 0 {
				return nil, r.fail(decodeException(raw))
			}

			frame, err := Decode(raw, shape)
			if err != nil {
				return frame, r.fail(err)
			}

			r.state = StateComplete
			r.sleep(r.TurnaroundDelay)
			return frame, nil

		default:
			return nil, r.fail(fmt.Errorf("%w: invalid receive state %s", ErrFraming, r.state))
		}
	}
}

// fill reads until the buffer holds n bytes
func (r *Receiver) fill(n int, timeout time.Duration) error {
	for r.n < n {
		k, err := r.transport.ReadTimeout(r.buf[r.n:n], timeout)
		if k > 0 {
			r.n += k
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
		if k == 0 {
			if r.n == 0 {
				return fmt.Errorf("%w: no response within %v", ErrTimeout, timeout)
			}
			return fmt.Errorf("%w: stalled after %d of %d bytes", ErrTimeout, r.n, n)
		}
	}
	return nil
}

// fail moves the state machine to the terminal state matching err. Any
// bytes still in flight are discarded so they cannot leak into the next
// transaction.
func (r *Receiver) fail(err error) error {
	switch {
	case errors.Is(err, ErrTimeout):
		r.state = StateTimeout
	case errors.Is(err, ErrCRC):
		r.state = StateCRCError
	case errors.Is(err, ErrFraming):
		r.state = StateFramingError
	case errors.Is(err, ErrProtocol):
		r.state = StateProtocolError
	default:
		r.state = StateTransportError
		return err
	}

	if r.state != StateTimeout || r.n > 0 {
		r.drain()
	}
	return err
}

// drain reads and drops input until the line stays quiet
func (r *Receiver) drain() {
	var scratch [64]byte
	for i := 0; i < drainMaxRounds; i++ {
		k, err := r.transport.ReadTimeout(scratch[:], drainTimeout)
		if err != nil || k == 0 {
			return
		}
	}
}
