// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package daemon

import "time"

// Reconnect backoff bounds
const (
	MinBackoff = 1 * time.Second
	MaxBackoff = 60 * time.Second
)

// Backoff yields exponentially growing delays between Min and Max
type Backoff struct {
	Min  time.Duration
	Max  time.Duration
	next time.Duration
}

// NewBackoff creates a backoff starting at min and capped at max
func NewBackoff(min, max time.Duration) *Backoff {
	return &Backoff{Min: min, Max: max}
}

// Next returns the delay to wait before the next attempt
func (b *Backoff) Next() time.Duration {
	if b.next == 0 {
		b.next = b.Min
	}
	d := b.next
	b.next = min(b.next*2, b.Max)
	return d
}

// Reset starts the sequence over at Min
func (b *Backoff) Reset() {
	b.next = 0
}
