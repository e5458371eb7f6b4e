// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package simulate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loadgrid/weighcore/errors"
	"github.com/loadgrid/weighcore/internal/log"
	"github.com/loadgrid/weighcore/internal/wallclock"
	"github.com/loadgrid/weighcore/scale"
)

type (
	// Sink receives each simulated reading, typically direct engine ingest
	// or a publish onto the node's sample topic.
	Sink func(context.Context, scale.RawSample) error

	// Fleet drives a set of simulated nodes at a fixed sweep rate. Each
	// sweep polls every node once; nodes that are offline or lose the
	// packet contribute nothing to that sweep.
	Fleet struct {
		sims []*NodeSim
		byID map[scale.NodeID]*NodeSim

		rate  float64
		skew  time.Duration
		seed  int64
		sink  Sink
		clock wallclock.WallClock
		log   log.Logger

		started  atomic.Bool
		stop     chan struct{}
		stopOnce sync.Once
		done     chan struct{}
	}
)

// NewFleet creates a fleet of simulated nodes feeding the sink.
func NewFleet(
	nodes []scale.Node,
	sink Sink,
	opt ...FleetOption,
) (*Fleet, error) {
	f := &Fleet{
		rate:  scale.DefaultSampleRate,
		skew:  DefaultSkew,
		clock: wallclock.Instance,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opt {
		o(f)
	}

	if sink == nil {
		return nil, &errors.Error{
			Message:      "sink cannot be nil",
			Kind:         errors.ArgumentInvalid,
			PropertyName: "sink",
		}
	}
	if len(nodes) == 0 {
		return nil, &errors.Error{
			Message:      "fleet requires at least one node",
			Kind:         errors.ConfigurationInvalid,
			PropertyName: "Nodes",
		}
	}
	if f.rate <= 0 {
		return nil, &errors.Error{
			Message:       "sample rate must be positive",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "SampleRate",
			PropertyValue: f.rate,
		}
	}

	seed := f.seed
	if seed == 0 {
		seed = f.clock.Now().UnixNano()
	}

	f.sink = sink
	f.sims = make([]*NodeSim, 0, len(nodes))
	f.byID = make(map[scale.NodeID]*NodeSim, len(nodes))
	for i, n := range nodes {
		if _, ok := f.byID[n.ID]; ok {
			return nil, &errors.Error{
				Message:       "duplicate node ID",
				Kind:          errors.ConfigurationInvalid,
				PropertyName:  "Nodes",
				PropertyValue: n.ID,
				NodeID:        uint32(n.ID),
			}
		}
		sim := NewNodeSim(n, seed+int64(i))
		sim.skew = f.skew
		f.sims = append(f.sims, sim)
		f.byID[n.ID] = sim
	}
	return f, nil
}

// Start launches the sweep loop. The fleet stops when ctx is canceled or
// Close is called, whichever first.
func (f *Fleet) Start(ctx context.Context) error {
	if !f.started.CompareAndSwap(false, true) {
		return &errors.Error{
			Message: "fleet already started",
			Kind:    errors.StateInvalid,
		}
	}
	f.log.Info(ctx, "simulated fleet started",
		slog.Int("nodes", len(f.sims)),
		slog.Float64("sample_rate_hz", f.rate),
	)
	go f.run(ctx)
	return nil
}

// Close stops the sweep loop. It is idempotent and safe to call from any
// goroutine.
func (f *Fleet) Close() {
	f.stopOnce.Do(func() { close(f.stop) })
	if f.started.Load() {
		<-f.done
	}
}

func (f *Fleet) run(ctx context.Context) {
	defer close(f.done)

	period := time.Duration(float64(time.Second) / f.rate)
	ticker := f.clock.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-f.stop:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			f.sweep(ctx, now)
		}
	}
}

func (f *Fleet) sweep(ctx context.Context, now time.Time) {
	for _, sim := range f.sims {
		s, ok := sim.Next(now)
		if !ok {
			continue
		}
		if err := f.sink(ctx, s); err != nil {
			// Rejected readings are the expected product of several fault
			// scenarios, so they only surface at debug level.
			f.log.Debug(ctx, "sink rejected sample",
				slog.Uint64("node_id", uint64(s.NodeID)),
				slog.Any("error", err),
			)
		}
	}
}

// Node returns the simulator for one node ID.
func (f *Fleet) Node(id scale.NodeID) (*NodeSim, bool) {
	sim, ok := f.byID[id]
	return sim, ok
}

// Sims returns all node simulators in configuration order.
func (f *Fleet) Sims() []*NodeSim {
	return append([]*NodeSim{}, f.sims...)
}

// ApplyLoad distributes weight evenly across all cells.
func (f *Fleet) ApplyLoad(kg float64) {
	per := kg / float64(len(f.sims))
	for _, sim := range f.sims {
		sim.ApplyLoad(per)
	}
}

// RemoveLoad takes evenly distributed weight off all cells.
func (f *Fleet) RemoveLoad(kg float64) {
	per := kg / float64(len(f.sims))
	for _, sim := range f.sims {
		sim.RemoveLoad(per)
	}
}

// TotalBase sums the base loads across the fleet.
func (f *Fleet) TotalBase() float64 {
	var total float64
	for _, sim := range f.sims {
		total += sim.Base()
	}
	return total
}
