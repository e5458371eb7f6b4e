// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package simulate

import (
	"context"
	"math/rand"
	"time"

	"github.com/loadgrid/weighcore/internal/wallclock"
	"github.com/loadgrid/weighcore/scale"
)

// Scenario scripts a fault or load condition onto a running fleet. A
// scenario blocks until its script completes or ctx is canceled, restoring
// whatever it changed on the way out.
type Scenario func(ctx context.Context, f *Fleet)

// Probability that an intermittent node comes back up each interval.
const onlineProbability = 0.7

// SensorOffline takes one node off the air for the duration.
func SensorOffline(id scale.NodeID, d time.Duration) Scenario {
	return func(ctx context.Context, f *Fleet) {
		sim, ok := f.Node(id)
		if !ok {
			return
		}
		prev := sim.SetOffline(true)
		defer sim.SetOffline(prev)
		wait(ctx, f, d)
	}
}

// SignalDegradation ramps one node's signal strength down to the target
// RSSI while packets start dropping, then restores the link.
func SignalDegradation(
	id scale.NodeID,
	targetRSSI int,
	d time.Duration,
) Scenario {
	return func(ctx context.Context, f *Fleet) {
		sim, ok := f.Node(id)
		if !ok {
			return
		}
		prevLoss := sim.SetPacketLoss(0.3)
		defer sim.SetPacketLoss(prevLoss)
		prevLo, prevHi := sim.SetRSSIRange(-55, -45)
		defer sim.SetRSSIRange(prevLo, prevHi)

		const steps = 10
		for i := 1; i <= steps; i++ {
			if !wait(ctx, f, d/steps) {
				return
			}
			hi := -45 + ((targetRSSI+45)*i)/steps
			sim.SetRSSIRange(hi-10, hi)
		}
	}
}

// HighNoise raises the noise floor across the whole fleet for the
// duration.
func HighNoise(sigma float64, d time.Duration) Scenario {
	return func(ctx context.Context, f *Fleet) {
		sims := f.Sims()
		prev := make([]float64, len(sims))
		for i, sim := range sims {
			prev[i] = sim.SetNoise(sigma)
		}
		defer func() {
			for i, sim := range sims {
				sim.SetNoise(prev[i])
			}
		}()
		wait(ctx, f, d)
	}
}

// Drift accelerates one node's drift walk for the duration, modeling
// gradual decalibration.
func Drift(id scale.NodeID, rate float64, d time.Duration) Scenario {
	return func(ctx context.Context, f *Fleet) {
		sim, ok := f.Node(id)
		if !ok {
			return
		}
		prev := sim.SetDrift(rate)
		defer sim.SetDrift(prev)
		wait(ctx, f, d)
	}
}

// SpikeTrain drops a series of impulses onto the platform, each split
// evenly across the cells.
func SpikeTrain(kg float64, count int, interval time.Duration) Scenario {
	return func(ctx context.Context, f *Fleet) {
		sims := f.Sims()
		per := kg / float64(len(sims))
		for range count {
			for _, sim := range sims {
				sim.Spike(per)
			}
			if !wait(ctx, f, interval) {
				return
			}
		}
	}
}

// LoadRamp piles weight on gradually, like a truck rolling onto the
// platform.
func LoadRamp(kg float64, d time.Duration) Scenario {
	return func(ctx context.Context, f *Fleet) {
		const steps = 20
		for range steps {
			f.ApplyLoad(kg / steps)
			if !wait(ctx, f, d/steps) {
				return
			}
		}
	}
}

// UnloadRamp takes the current load off gradually.
func UnloadRamp(d time.Duration) Scenario {
	return func(ctx context.Context, f *Fleet) {
		const steps = 20
		total := f.TotalBase()
		for range steps {
			f.RemoveLoad(total / steps)
			if !wait(ctx, f, d/steps) {
				return
			}
		}
	}
}

// Intermittent flaps one node's link: every interval the node comes back
// up with a fixed probability, otherwise it stays dark.
func Intermittent(id scale.NodeID, interval, d time.Duration) Scenario {
	return func(ctx context.Context, f *Fleet) {
		sim, ok := f.Node(id)
		if !ok {
			return
		}
		r := rand.New(rand.NewSource(
			wallclock.Instance.Now().UnixNano(),
		)) // #nosec G404
		prev := sim.SetOffline(false)
		defer sim.SetOffline(prev)

		for range int(d / interval) {
			if !wait(ctx, f, interval) {
				return
			}
			sim.SetOffline(r.Float64() >= onlineProbability)
		}
	}
}

// Overload pushes the platform beyond the validity bound so the engine
// rejects the readings, then removes the excess.
func Overload(kg float64, d time.Duration) Scenario {
	return func(ctx context.Context, f *Fleet) {
		f.ApplyLoad(kg)
		defer f.RemoveLoad(kg)
		wait(ctx, f, d)
	}
}

// Preset returns a named scenario with representative defaults, applied to
// the first configured node where the scenario targets a single node.
func Preset(name string, nodes []scale.Node) (Scenario, bool) {
	if len(nodes) == 0 {
		return nil, false
	}
	first := nodes[0].ID

	switch name {
	case "normal":
		return func(context.Context, *Fleet) {}, true
	case "offline":
		return SensorOffline(first, 10*time.Second), true
	case "degradation":
		return SignalDegradation(first, -85, 30*time.Second), true
	case "noise":
		return HighNoise(0.5, 30*time.Second), true
	case "drift":
		return Drift(first, 0.01, 2*time.Minute), true
	case "spike":
		return SpikeTrain(10, 5, 2*time.Second), true
	case "ramp":
		return LoadRamp(600, 30*time.Second), true
	case "unload":
		return UnloadRamp(20*time.Second), true
	case "intermittent":
		return Intermittent(first, 5*time.Second, time.Minute), true
	case "overload":
		return Overload(260000, 10*time.Second), true
	}
	return nil, false
}

// PresetNames lists the scenario names Preset accepts.
func PresetNames() []string {
	return []string{
		"normal", "offline", "degradation", "noise", "drift",
		"spike", "ramp", "unload", "intermittent", "overload",
	}
}

// wait sleeps on the fleet's clock, reporting false when ctx ended first.
func wait(ctx context.Context, f *Fleet, d time.Duration) bool {
	select {
	case <-f.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
