// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package r4dcb08

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/tempbus/pkg/rtu"
)

// Statistics tracks transaction outcomes and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Transactions    uint64
	Successful      uint64
	Timeouts        uint64
	FramingErrors   uint64
	CRCErrors       uint64
	ProtocolErrors  uint64
	Exceptions      uint64 // subset of ProtocolErrors
	SendErrors      uint64
	TransportErrors uint64
	OtherErrors     uint64

	// Rates (calculated)
	TransactionRate float64 // transactions/sec
	ErrorRate       float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Record counts one transaction outcome; nil is a success
func (s *Statistics) Record(err error) {
	s.Transactions++
	s.LastUpdateTime = time.Now()

	var exc *rtu.ExceptionError
	switch {
	case err == nil:
		s.Successful++
	case errors.Is(err, rtu.ErrTimeout):
		s.Timeouts++
	case errors.Is(err, rtu.ErrCRC):
		s.CRCErrors++
	case errors.Is(err, rtu.ErrFraming):
		s.FramingErrors++
	case errors.As(err, &exc):
		s.Exceptions++
		s.ProtocolErrors++
	case errors.Is(err, rtu.ErrProtocol):
		s.ProtocolErrors++
	case errors.Is(err, ErrSend):
		s.SendErrors++
	case errors.Is(err, rtu.ErrTransport):
		s.TransportErrors++
	default:
		s.OtherErrors++
	}
}

// Errors returns the number of failed transactions
func (s *Statistics) Errors() uint64 {
	return s.Transactions - s.Successful
}

// CalculateRates calculates transaction and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.TransactionRate = float64(s.Transactions) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.Transactions == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.Transactions)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Statistics (%.0f seconds) ===\n", time.Since(s.StartTime).Seconds())
	fmt.Fprintf(&b, "Transactions:    %8d\n", s.Transactions)
	fmt.Fprintf(&b, "Successful:      %8d (%.1f%%)\n", s.Successful, percent(s.Successful))

	rows := []struct {
		label string
		n     uint64
	}{
		{"Timeouts:        ", s.Timeouts},
		{"Framing Errors:  ", s.FramingErrors},
		{"CRC Errors:      ", s.CRCErrors},
		{"Protocol Errors: ", s.ProtocolErrors},
		{"Send Errors:     ", s.SendErrors},
		{"Transport Errors:", s.TransportErrors},
		{"Other Errors:    ", s.OtherErrors},
	}
	for _, row := range rows {
		if row.n > 0 {
			fmt.Fprintf(&b, "%s%8d (%.1f%%)\n", row.label, row.n, percent(row.n))
		}
	}
	if s.Exceptions > 0 {
		fmt.Fprintf(&b, "  of which Modbus exceptions: %d\n", s.Exceptions)
	}

	fmt.Fprintf(&b, "Transaction Rate:%8.1f txn/sec\n", s.TransactionRate)
	fmt.Fprintf(&b, "Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	b.WriteString("================================\n")
	return b.String()
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
