// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package filter

import "fmt"

// Window size limits for the moving average
const (
	MinWindow = 3
	MaxWindow = 15
)

// edgeWeight is the weight of the oldest and newest sample in a full window
const edgeWeight = 0.5

// MovingAverage is a centered moving average with trapezoidal weights
// [0.5, 1, ..., 1, 0.5] over an odd window of N samples.
//
// Until N samples have been seen the output is the plain mean of the
// samples so far. The output timestamp is that of the sample (N-1)/2 behind
// the newest one.
type MovingAverage struct {
	window   int
	channels int
	slots    []Sample
	next     int
	seen     int
}

// NewMovingAverage creates a moving average over window samples. The window
// must be odd and within [MinWindow, MaxWindow].
func NewMovingAverage(window, channels int) (*MovingAverage, error) {
	if window < MinWindow || window > MaxWindow || window%2 == 0 {
		return nil, fmt.Errorf("%w: %d (odd, %d..%d)", ErrWindowSize, window, MinWindow, MaxWindow)
	}
	if channels < 1 {
		return nil, fmt.Errorf("%w: %d channels", ErrChannelCount, channels)
	}
	return &MovingAverage{
		window:   window,
		channels: channels,
		slots:    make([]Sample, window),
	}, nil
}

// Window returns the window size
func (f *MovingAverage) Window() int {
	return f.window
}

// Channels returns the channel count
func (f *MovingAverage) Channels() int {
	return f.channels
}

// Reset discards all stored samples
func (f *MovingAverage) Reset() {
	for i := range f.slots {
		f.slots[i] = Sample{}
	}
	f.next = 0
	f.seen = 0
}

// Apply feeds one sample and returns the filtered sample
func (f *MovingAverage) Apply(s Sample) (Sample, error) {
	if len(s.Values) != f.channels {
		return Sample{}, fmt.Errorf("%w: got %d values, filter has %d channels", ErrChannelCount, len(s.Values), f.channels)
	}

	newest := f.next
	f.slots[newest] = s.Clone()
	f.next = mod(f.next+1, f.window)
	if f.seen < f.window {
		f.seen++
	}

	half := (f.window - 1) / 2
	out := Sample{Values: make([]float64, f.channels)}

	if f.seen < f.window {
		// slots 0..seen-1 hold everything stored so far
		out.Time = f.slots[max(newest-half, 0)].Time
		for ch := range out.Values {
			var sum, n float64
			for i := 0; i < f.seen; i++ {
				if v := f.slots[i].Values[ch]; !IsUnavailable(v) {
					sum += v
					n++
				}
			}
			out.Values[ch] = average(sum, n)
		}
		return out, nil
	}

	out.Time = f.slots[mod(newest-half, f.window)].Time
	for ch := range out.Values {
		var sum, weight float64
		for i := 0; i < f.window; i++ {
			v := f.slots[mod(newest-f.window+1+i, f.window)].Values[ch]
			if IsUnavailable(v) {
				continue
			}
			w := 1.0
			if i == 0 || i == f.window-1 {
				w = edgeWeight
			}
			sum += w * v
			weight += w
		}
		out.Values[ch] = average(sum, weight)
	}
	return out, nil
}

func average(sum, weight float64) float64 {
	if weight == 0 {
		return Unavailable
	}
	return sum / weight
}
