// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package r4dcb08

import (
	"fmt"
	"math"

	"github.com/Thermoquad/tempbus/pkg/filter"
)

// Register map
const (
	RegTemperature uint16 = 0x0000 // channel temperatures, read 1..8 words
	RegCorrection  uint16 = 0x0008 // read: 8 correction words; write: 0x0008+channel
	RegAddress     uint16 = 0x00FE
	RegBaudrate    uint16 = 0x00FF // also takes the factory reset code
)

// Device limits
const (
	Channels         = 8
	FactoryResetCode = 5

	MinTemperature = -55.0
	MaxTemperature = 125.0
)

// BaudCode is the value written to RegBaudrate. A new rate takes effect
// after the module is power cycled.
type BaudCode uint16

// Supported baud codes
const (
	Baud1200 BaudCode = iota
	Baud2400
	Baud4800
	Baud9600
	Baud19200
)

var baudRates = [...]int{1200, 2400, 4800, 9600, 19200}

// Rate returns the line speed for the code, or 0 for an unknown code
func (b BaudCode) Rate() int {
	if int(b) >= len(baudRates) {
		return 0
	}
	return baudRates[b]
}

// Valid reports whether b is a supported code
func (b BaudCode) Valid() bool {
	return int(b) < len(baudRates)
}

func (b BaudCode) String() string {
	if !b.Valid() {
		return fmt.Sprintf("BaudCode(%d)", uint16(b))
	}
	return fmt.Sprintf("%d baud", b.Rate())
}

// BaudCodeForRate returns the code for a line speed
func BaudCodeForRate(rate int) (BaudCode, error) {
	for i, r := range baudRates {
		if r == rate {
			return BaudCode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unsupported baud rate %d", ErrInvalidArgument, rate)
}

// DecodeTemperature converts a temperature register to degrees Celsius.
// Values outside the sensor range become filter.Unavailable.
func DecodeTemperature(reg uint16) float64 {
	t := DecodeTenths(reg)
	if t < MinTemperature || t > MaxTemperature {
		return filter.Unavailable
	}
	return t
}

// DecodeTenths converts a signed register in tenths of a degree
func DecodeTenths(reg uint16) float64 {
	return float64(int16(reg)) / 10
}

// EncodeTenths converts degrees Celsius to a signed register in tenths of a
// degree, rounding to the nearest tenth.
func EncodeTenths(celsius float64) (uint16, error) {
	if math.IsNaN(celsius) || math.IsInf(celsius, 0) {
		return 0, fmt.Errorf("%w: %v is not a number", ErrInvalidArgument, celsius)
	}
	tenths := math.Round(celsius * 10)
	if tenths < math.MinInt16 || tenths > math.MaxInt16 {
		return 0, fmt.Errorf("%w: %.1f is out of register range", ErrInvalidArgument, celsius)
	}
	return uint16(int16(tenths)), nil
}
