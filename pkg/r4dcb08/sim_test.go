// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package r4dcb08

import (
	"encoding/binary"
	"io"
	"log/slog"
	"time"

	"github.com/Thermoquad/tempbus/pkg/rtu"
)

// simDevice is an R4DCB08 register file answering on a simulated bus
type simDevice struct {
	registers map[uint16]uint16

	exception    byte // answer every request with this exception code
	silentWrites bool // accept writes without acknowledging
	badEcho      bool // acknowledge writes with a wrong value
	replyAs      byte // answer from another address
}

func newSimDevice() *simDevice {
	return &simDevice{registers: map[uint16]uint16{}}
}

// simBus is an rtu.Transport whose writes are answered by simulated devices
type simBus struct {
	devices  map[byte]*simDevice
	pending  []byte
	written  [][]byte
	writeErr error
	corrupt  bool
}

func newSimBus() *simBus {
	return &simBus{devices: map[byte]*simDevice{}}
}

func (b *simBus) Write(p []byte) (int, error) {
	if b.writeErr != nil {
		return 0, b.writeErr
	}
	b.written = append(b.written, append([]byte(nil), p...))

	addr, fn := p[0], p[1]
	dev, ok := b.devices[addr]
	if !ok || len(p) != 8 {
		return len(p), nil
	}
	reg := binary.BigEndian.Uint16(p[2:4])
	val := binary.BigEndian.Uint16(p[4:6])
	from := addr
	if dev.replyAs != 0 {
		from = dev.replyAs
	}

	switch {
	case dev.exception != 0:
		b.pending = rtu.MustEncode(from, fn|rtu.ExceptionFlag, []byte{dev.exception})
	case fn == rtu.FuncReadHoldingRegisters:
		payload := []byte{byte(2 * val)}
		for i := uint16(0); i < val; i++ {
			payload = binary.BigEndian.AppendUint16(payload, dev.registers[reg+i])
		}
		b.pending = rtu.MustEncode(from, fn, payload)
	case fn == rtu.FuncWriteRegister:
		if dev.silentWrites {
			return len(p), nil
		}
		dev.registers[reg] = val
		if dev.badEcho {
			val++
		}
		b.pending = rtu.MustEncode(from, fn, rtu.WriteRequestPayload(reg, val))
	}

	if b.corrupt && len(b.pending) > 0 {
		b.pending[len(b.pending)-1] ^= 0xFF
	}
	return len(p), nil
}

func (b *simBus) ReadTimeout(p []byte, _ time.Duration) (int, error) {
	n := copy(p, b.pending)
	b.pending = b.pending[n:]
	return n, nil
}

func newTestClient(bus *simBus, opts ...Option) *Client {
	opts = append([]Option{
		WithTurnaroundDelay(0),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	c := NewClient(bus, opts...)
	c.scanDelay = 0
	return c
}
