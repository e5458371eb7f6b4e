// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package simulate

import (
	"log/slog"
	"time"

	"github.com/loadgrid/weighcore/internal/log"
	"github.com/loadgrid/weighcore/internal/wallclock"
)

// FleetOption configures the simulated fleet.
type FleetOption func(*Fleet)

// WithRate sets the sweep rate in Hz.
func WithRate(hz float64) FleetOption {
	return func(f *Fleet) {
		f.rate = hz
	}
}

// WithSkew bounds the per-sample timestamp jitter applied by each node.
// Zero produces identical timestamps across a sweep.
func WithSkew(skew time.Duration) FleetOption {
	return func(f *Fleet) {
		f.skew = skew
	}
}

// WithSeed pins the randomness so the fleet reproduces the same reading
// sequences. Zero seeds from the current time.
func WithSeed(seed int64) FleetOption {
	return func(f *Fleet) {
		f.seed = seed
	}
}

// WithClock overrides the wallclock driving the sweep loop. Intended for
// injecting a fake clock in tests.
func WithClock(clock wallclock.WallClock) FleetOption {
	return func(f *Fleet) {
		f.clock = clock
	}
}

// WithLogger sets the logger for the fleet.
func WithLogger(logger *slog.Logger) FleetOption {
	return func(f *Fleet) {
		f.log = log.Wrap(logger)
	}
}
