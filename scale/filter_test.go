// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package scale_test

import (
	"testing"

	"github.com/loadgrid/weighcore/errors"
	"github.com/loadgrid/weighcore/scale"
	"github.com/stretchr/testify/require"
)

func TestMedianFilterRejectsSpike(t *testing.T) {
	f, err := scale.NewMedianFilter(5)
	require.NoError(t, err)

	// A single radio glitch inside an otherwise steady window must not
	// reach the smoother.
	var out float64
	for _, v := range []float64{161.2, 163.5, 500.0, 162.8, 163.1} {
		out = f.Push(v)
	}
	require.Equal(t, 163.1, out)
}

func TestMedianFilterPartialWindow(t *testing.T) {
	f, err := scale.NewMedianFilter(5)
	require.NoError(t, err)

	// While the window fills, the filter emits the median of what it has
	// seen: the middle element on odd counts, the mean of the two middle
	// elements on even counts.
	require.Equal(t, 161.0, f.Push(161.0))
	require.Equal(t, 162.0, f.Push(163.0))
	require.Equal(t, 162.0, f.Push(162.0))
	require.Equal(t, 162.25, f.Push(162.5))
}

func TestMedianFilterSlidesWindow(t *testing.T) {
	f, err := scale.NewMedianFilter(3)
	require.NoError(t, err)

	for _, v := range []float64{1, 2, 3} {
		f.Push(v)
	}
	require.Equal(t, []float64{1, 2, 3}, f.Window())

	// The oldest value falls out once the window is full.
	require.Equal(t, 3.0, f.Push(4))
	require.Equal(t, []float64{2, 3, 4}, f.Window())

	f.Reset()
	require.Empty(t, f.Window())
	require.Equal(t, 7.5, f.Push(7.5))
}

func TestMedianFilterRejectsEvenWindow(t *testing.T) {
	for _, size := range []int{-1, 0, 2, 4} {
		_, err := scale.NewMedianFilter(size)
		require.Error(t, err, "window size %d", size)

		typed, ok := err.(*errors.Error)
		require.True(t, ok)
		require.Equal(t, errors.ConfigurationInvalid, typed.Kind)
	}
}

func TestSmootherRecurrence(t *testing.T) {
	s, err := scale.NewExponentialSmoother(0.3)
	require.NoError(t, err)

	// The first value seeds the state directly.
	require.Equal(t, 162.5, s.Update(162.5))

	require.InDelta(t, 162.68, s.Update(163.1), 0.005)
}

func TestSmootherSeeding(t *testing.T) {
	s, err := scale.NewExponentialSmoother(0.3)
	require.NoError(t, err)

	_, seeded := s.Value()
	require.False(t, seeded)

	s.Update(150.0)
	v, seeded := s.Value()
	require.True(t, seeded)
	require.Equal(t, 150.0, v)

	s.Reset()
	_, seeded = s.Value()
	require.False(t, seeded)
}

func TestSmootherPassThrough(t *testing.T) {
	s, err := scale.NewExponentialSmoother(1.0)
	require.NoError(t, err)

	s.Update(100.0)
	require.Equal(t, 42.0, s.Update(42.0))
}

func TestSmootherRejectsAlphaOutOfRange(t *testing.T) {
	for _, alpha := range []float64{-0.1, 0, 1.01, 2} {
		_, err := scale.NewExponentialSmoother(alpha)
		require.Error(t, err, "alpha %v", alpha)

		typed, ok := err.(*errors.Error)
		require.True(t, ok)
		require.Equal(t, errors.ConfigurationInvalid, typed.Kind)
		require.Equal(t, "SmoothingAlpha", typed.PropertyName)
	}
}
