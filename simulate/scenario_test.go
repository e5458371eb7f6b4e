// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package simulate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loadgrid/weighcore/scale"
	"github.com/loadgrid/weighcore/simulate"
)

func newScenarioFleet(t *testing.T) *simulate.Fleet {
	t.Helper()
	sink := func(context.Context, scale.RawSample) error { return nil }
	fleet, err := simulate.NewFleet(fleetNodes, sink, simulate.WithSeed(7))
	require.NoError(t, err)
	for _, sim := range fleet.Sims() {
		sim.SetPacketLoss(0)
	}
	return fleet
}

// online probes a node without mutating it; with packet loss disabled a
// false result means the node is offline.
func online(sim *simulate.NodeSim) bool {
	_, ok := sim.Next(time.Now())
	return ok
}

func TestSensorOfflineRestores(t *testing.T) {
	fleet := newScenarioFleet(t)
	sim, ok := fleet.Node(11111)
	require.True(t, ok)

	simulate.SensorOffline(11111, 20*time.Millisecond)(
		context.Background(), fleet)

	require.True(t, online(sim))
}

func TestSensorOfflineCancel(t *testing.T) {
	fleet := newScenarioFleet(t)
	sim, ok := fleet.Node(11111)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		simulate.SensorOffline(11111, time.Hour)(ctx, fleet)
	}()

	require.Eventually(t, func() bool {
		return !online(sim)
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scenario did not stop on cancel")
	}

	// Cancellation still restores the node.
	require.True(t, online(sim))
}

func TestHighNoiseRestores(t *testing.T) {
	fleet := newScenarioFleet(t)

	simulate.HighNoise(0.5, 20*time.Millisecond)(context.Background(), fleet)

	for _, sim := range fleet.Sims() {
		require.Equal(t, simulate.DefaultNoise, sim.SetNoise(0))
	}
}

func TestDriftRestores(t *testing.T) {
	fleet := newScenarioFleet(t)

	simulate.Drift(11111, 0.25, 20*time.Millisecond)(
		context.Background(), fleet)

	sim, ok := fleet.Node(11111)
	require.True(t, ok)
	require.Equal(t, simulate.DefaultDriftRate, sim.SetDrift(0))
}

func TestSpikeTrainRaisesReadings(t *testing.T) {
	fleet := newScenarioFleet(t)
	for _, sim := range fleet.Sims() {
		sim.SetNoise(0)
		sim.SetDrift(0)
		sim.SetBase(100)
	}

	simulate.SpikeTrain(40, 2, 5*time.Millisecond)(
		context.Background(), fleet)

	for _, sim := range fleet.Sims() {
		s, ok := sim.Next(time.Now())
		require.True(t, ok)
		require.Greater(t, s.Value, 100.0)
	}
}

func TestLoadRampAddsWeight(t *testing.T) {
	fleet := newScenarioFleet(t)
	before := fleet.TotalBase()

	simulate.LoadRamp(100, 40*time.Millisecond)(context.Background(), fleet)

	require.InDelta(t, before+100, fleet.TotalBase(), 1e-9)
}

func TestUnloadRampRemovesWeight(t *testing.T) {
	fleet := newScenarioFleet(t)
	require.Greater(t, fleet.TotalBase(), 0.0)

	simulate.UnloadRamp(40 * time.Millisecond)(context.Background(), fleet)

	require.InDelta(t, 0, fleet.TotalBase(), 1e-9)
}

func TestOverloadRestores(t *testing.T) {
	fleet := newScenarioFleet(t)
	before := fleet.TotalBase()

	simulate.Overload(260000, 20*time.Millisecond)(
		context.Background(), fleet)

	require.InDelta(t, before, fleet.TotalBase(), 1e-9)
}

func TestPresetCatalog(t *testing.T) {
	for _, name := range simulate.PresetNames() {
		s, ok := simulate.Preset(name, fleetNodes)
		require.True(t, ok, "preset %s", name)
		require.NotNil(t, s, "preset %s", name)
	}

	_, ok := simulate.Preset("earthquake", fleetNodes)
	require.False(t, ok)

	_, ok = simulate.Preset("normal", nil)
	require.False(t, ok)
}
