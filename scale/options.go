// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package scale

import (
	"log/slog"

	"github.com/loadgrid/weighcore/internal/log"
	"github.com/loadgrid/weighcore/internal/wallclock"
)

// EngineOption configures the weighing engine.
type EngineOption func(*WeighingEngine)

// WithLogger sets the logger for the weighing engine.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *WeighingEngine) {
		e.log = log.Wrap(logger)
	}
}

// WithClock overrides the wallclock used for frame aging and liveness
// checks. Intended for injecting a fake clock in tests.
func WithClock(clock wallclock.WallClock) EngineOption {
	return func(e *WeighingEngine) {
		e.clock = clock
	}
}

// WithIngestBuffer sets the capacity of the producer-to-consumer sample
// channel.
func WithIngestBuffer(size int) EngineOption {
	return func(e *WeighingEngine) {
		e.ingestBuffer = size
	}
}

// WithOutputBuffer sets the capacity of the output channel. When the buffer
// is full the oldest pending output is dropped, keeping the live reading
// current for a lagging consumer.
func WithOutputBuffer(size int) EngineOption {
	return func(e *WeighingEngine) {
		e.outputBuffer = size
	}
}
