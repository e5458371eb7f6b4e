// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package scale

import (
	"slices"

	"github.com/loadgrid/weighcore/errors"
)

type (
	// MedianFilter removes single-sample spikes from one node's sequence by
	// emitting the median of a sliding window of raw values.
	MedianFilter struct {
		size   int
		window []float64
	}

	// ExponentialSmoother low-pass filters one node's de-spiked sequence
	// with the recurrence ema = alpha*value + (1-alpha)*ema. The first value
	// seeds the state directly, so there is no smoothing lag on startup.
	ExponentialSmoother struct {
		alpha  float64
		value  float64
		seeded bool
	}
)

// NewMedianFilter returns a filter over a window of size values. The size
// must be a positive odd count so the steady-state median is always a real
// input value, never an interpolation.
func NewMedianFilter(size int) (*MedianFilter, error) {
	if size < 1 || size%2 == 0 {
		return nil, &errors.Error{
			Message:       "median window must be a positive odd count",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "MedianWindow",
			PropertyValue: size,
		}
	}
	return &MedianFilter{size: size, window: make([]float64, 0, size)}, nil
}

// Push appends one raw value, discarding the oldest once the window is
// full, and returns the median of the values held. While the window is
// still filling it returns the median of the values seen so far, averaging
// the two middle elements on even counts.
func (f *MedianFilter) Push(value float64) float64 {
	if len(f.window) == f.size {
		f.window = append(f.window[1:], value)
	} else {
		f.window = append(f.window, value)
	}

	sorted := make([]float64, len(f.window))
	copy(sorted, f.window)
	slices.Sort(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// Window returns a copy of the held values, oldest first.
func (f *MedianFilter) Window() []float64 {
	return append([]float64{}, f.window...)
}

// Reset discards the held values.
func (f *MedianFilter) Reset() {
	f.window = f.window[:0]
}

// NewExponentialSmoother returns a smoother with the given coefficient.
// Alpha must be in (0, 1]; 1 degenerates to pass-through.
func NewExponentialSmoother(alpha float64) (*ExponentialSmoother, error) {
	if alpha <= 0 || alpha > 1 {
		return nil, &errors.Error{
			Message:       "smoothing alpha must be in (0, 1]",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "SmoothingAlpha",
			PropertyValue: alpha,
		}
	}
	return &ExponentialSmoother{alpha: alpha}, nil
}

// Update folds one value into the smoothed state and returns the result.
func (s *ExponentialSmoother) Update(value float64) float64 {
	if !s.seeded {
		s.value = value
		s.seeded = true
		return value
	}
	s.value = s.alpha*value + (1-s.alpha)*s.value
	return s.value
}

// Value returns the current smoothed value and whether the smoother has
// been seeded. Before the first Update the node contributes no smoothed
// value.
func (s *ExponentialSmoother) Value() (float64, bool) {
	return s.value, s.seeded
}

// Reset returns the smoother to its unseeded state.
func (s *ExponentialSmoother) Reset() {
	s.value = 0
	s.seeded = false
}
