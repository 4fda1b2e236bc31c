// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package filter

import "fmt"

const medianWindow = 3

// Median is a three-point median filter. Its output lags the input by one
// sample: each result carries the timestamp of the middle sample of the
// window.
type Median struct {
	channels int
	slots    [medianWindow]Sample
	index    int
	primed   bool
}

// NewMedian creates a median filter for the given number of channels
func NewMedian(channels int) (*Median, error) {
	if channels < 1 {
		return nil, fmt.Errorf("%w: %d channels", ErrChannelCount, channels)
	}
	return &Median{channels: channels}, nil
}

// Channels returns the channel count the filter was created with
func (m *Median) Channels() int {
	return m.channels
}

// Reset discards the history. The next sample seeds the whole window again.
func (m *Median) Reset() {
	m.slots = [medianWindow]Sample{}
	m.index = 0
	m.primed = false
}

// Apply feeds one sample and returns the filtered sample.
//
// The first sample after creation or Reset fills all three slots so the
// filter starts without a transient. Per channel, an unavailable newest
// value passes through unchanged, and a window holding any other
// unavailable value yields the raw newest value.
func (m *Median) Apply(s Sample) (Sample, error) {
	if len(s.Values) != m.channels {
		return Sample{}, fmt.Errorf("%w: got %d values, filter has %d channels", ErrChannelCount, len(s.Values), m.channels)
	}

	if !m.primed {
		for i := range m.slots {
			m.slots[i] = s.Clone()
		}
		m.primed = true
	}

	m.index = mod(m.index+1, medianWindow)
	m.slots[m.index] = s.Clone()

	newest := m.slots[m.index]
	middle := m.slots[mod(m.index-1, medianWindow)]
	oldest := m.slots[mod(m.index-2, medianWindow)]

	out := Sample{Time: middle.Time, Values: make([]float64, m.channels)}
	for ch := range out.Values {
		a, b, c := oldest.Values[ch], middle.Values[ch], newest.Values[ch]
		switch {
		case IsUnavailable(c):
			out.Values[ch] = c
		case IsUnavailable(a) || IsUnavailable(b):
			out.Values[ch] = c
		default:
			out.Values[ch] = median3(a, b, c)
		}
	}
	return out, nil
}

// median3 picks the middle of three values by pairwise comparison
func median3(a, b, c float64) float64 {
	if a > b {
		a, b = b, a
	}
	if b > c {
		b = c
	}
	if a > b {
		b = a
	}
	return b
}
