// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package r4dcb08

import (
	"math"
	"strings"
	"testing"

	"github.com/Thermoquad/tempbus/pkg/filter"
	"github.com/Thermoquad/tempbus/pkg/rtu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTemperature(t *testing.T) {
	tests := []struct {
		reg  uint16
		want float64
	}{
		{0, 0},
		{215, 21.5},
		{1250, 125.0},
		{uint16(0xFDDA), -55.0},
		{uint16(0xFFFF), -0.1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, DecodeTemperature(tt.reg), 1e-9, "register 0x%04X", tt.reg)
	}

	for _, reg := range []uint16{1251, uint16(0xFDD9), 0x7FFF, 0x8000} {
		assert.True(t, filter.IsUnavailable(DecodeTemperature(reg)), "register 0x%04X", reg)
	}
}

func TestEncodeTenths(t *testing.T) {
	tests := []struct {
		in   float64
		want uint16
	}{
		{0, 0},
		{1.5, 15},
		{-1.5, 0xFFF1},
		{0.04, 0},
		{0.05, 1},
		{-0.3, 0xFFFD},
		{3276.7, 0x7FFF},
	}
	for _, tt := range tests {
		got, err := EncodeTenths(tt.in)
		require.NoError(t, err, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}

	for _, bad := range []float64{3276.8, -3276.9, math.NaN(), math.Inf(1)} {
		_, err := EncodeTenths(bad)
		assert.ErrorIs(t, err, ErrInvalidArgument, "%v", bad)
	}
}

func TestBaudCode(t *testing.T) {
	assert.Equal(t, 1200, Baud1200.Rate())
	assert.Equal(t, 9600, Baud9600.Rate())
	assert.Equal(t, 19200, Baud19200.Rate())
	assert.Equal(t, 0, BaudCode(5).Rate())
	assert.False(t, BaudCode(FactoryResetCode).Valid())
	assert.Equal(t, "4800 baud", Baud4800.String())

	code, err := BaudCodeForRate(2400)
	require.NoError(t, err)
	assert.Equal(t, Baud2400, code)

	_, err = BaudCodeForRate(115200)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestStatistics_Record(t *testing.T) {
	s := NewStatistics()
	s.Record(nil)
	s.Record(rtu.ErrTimeout)
	s.Record(&rtu.CRCError{})
	s.Record(&rtu.ExceptionError{Function: 3, Code: 2})
	s.Record(rtu.ErrFraming)
	s.Record(&OpError{Op: "x", Err: ErrSend})

	assert.Equal(t, uint64(6), s.Transactions)
	assert.Equal(t, uint64(1), s.Successful)
	assert.Equal(t, uint64(1), s.Timeouts)
	assert.Equal(t, uint64(1), s.CRCErrors)
	assert.Equal(t, uint64(1), s.ProtocolErrors)
	assert.Equal(t, uint64(1), s.Exceptions)
	assert.Equal(t, uint64(1), s.FramingErrors)
	assert.Equal(t, uint64(1), s.SendErrors)
	assert.Equal(t, uint64(5), s.Errors())

	out := s.String()
	assert.True(t, strings.Contains(out, "Transactions:           6"), out)
	assert.True(t, strings.Contains(out, "CRC Errors:"), out)
	assert.False(t, strings.Contains(out, "Transport Errors:"), out)

	s.Reset()
	assert.Zero(t, s.Transactions)
}
