// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package daemon

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Diagnostics payload formats
const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// Diagnostics is the periodic health report published on the diagnostics topic
type Diagnostics struct {
	UptimeSeconds     uint64 `json:"uptime_s" cbor:"uptime_s"`
	ReadsTotal        uint64 `json:"reads_total" cbor:"reads_total"`
	ReadsOK           uint64 `json:"reads_ok" cbor:"reads_ok"`
	ReadsFailed       uint64 `json:"reads_failed" cbor:"reads_failed"`
	Reconnects        uint64 `json:"reconnects" cbor:"reconnects"`
	ConsecutiveErrors int    `json:"consecutive_errors" cbor:"consecutive_errors"`
}

// Encode serializes the report as JSON or CBOR
func (d Diagnostics) Encode(format string) ([]byte, error) {
	switch format {
	case "", FormatJSON:
		return json.Marshal(d)
	case FormatCBOR:
		return cbor.Marshal(d)
	default:
		return nil, fmt.Errorf("unknown diagnostics format %q", format)
	}
}
