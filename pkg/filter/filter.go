// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package filter implements streaming filters for multi-channel sensor
// readings: a three-point median filter for spike removal and a
// trapezoidal-weighted moving average for smoothing.
//
// Both filters keep their own history, so independent instances never
// share state. A reading that could not be obtained is carried as
// Unavailable and never takes part in a computed value.
package filter

import (
	"errors"
	"math"
	"time"
)

// Unavailable marks a channel value with no valid reading
var Unavailable = math.NaN()

// IsUnavailable reports whether v is the Unavailable marker
func IsUnavailable(v float64) bool {
	return math.IsNaN(v)
}

// Filter errors
var (
	ErrWindowSize   = errors.New("filter: window size must be odd and within range")
	ErrChannelCount = errors.New("filter: channel count mismatch")
)

// Sample is one timestamped reading of every channel
type Sample struct {
	Time   time.Time
	Values []float64
}

// Clone returns a deep copy of the sample
func (s Sample) Clone() Sample {
	values := make([]float64, len(s.Values))
	copy(values, s.Values)
	return Sample{Time: s.Time, Values: values}
}

// mod is a modulo that stays non-negative for negative a
func mod(a, n int) int {
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}
