// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package scale_test

import (
	"testing"
	"time"

	"github.com/loadgrid/weighcore/scale"
	"github.com/stretchr/testify/require"
)

var aggConfig = scale.Config{
	Nodes: []scale.Node{
		{ID: 1, Name: "front-left"},
		{ID: 2, Name: "front-right"},
		{ID: 3, Name: "rear-left"},
		{ID: 4, Name: "rear-right"},
	},
}

func aggSample(id scale.NodeID, ts time.Time, kg float64) scale.RawSample {
	return scale.RawSample{NodeID: id, Timestamp: ts, Value: kg}
}

func TestAggregatorCompleteFrame(t *testing.T) {
	cfg := aggConfig
	require.NoError(t, cfg.Validate())
	a := scale.NewFrameAggregator(cfg)

	now := time.Unix(1700000000, 0)
	ts := now

	// Four nodes within the tolerance window close the frame immediately.
	require.Nil(t, a.Ingest(now, aggSample(1, ts, 10)))
	require.Nil(t, a.Ingest(now, aggSample(2, ts.Add(2*time.Millisecond), 20)))
	require.Nil(t, a.Ingest(now, aggSample(3, ts.Add(4*time.Millisecond), 30)))
	f := a.Ingest(now, aggSample(4, ts.Add(6*time.Millisecond), 40))

	require.NotNil(t, f)
	require.True(t, f.Complete)
	require.Equal(t, ts, f.Timestamp)
	require.Equal(t,
		map[scale.NodeID]float64{1: 10, 2: 20, 3: 30, 4: 40},
		f.Values,
	)
	require.Zero(t, a.Pending())
}

func TestAggregatorToleranceViolationClosesIncomplete(t *testing.T) {
	cfg := aggConfig
	require.NoError(t, cfg.Validate())
	a := scale.NewFrameAggregator(cfg)

	now := time.Unix(1700000000, 0)
	ts := now

	require.Nil(t, a.Ingest(now, aggSample(1, ts, 10)))
	require.Nil(t, a.Ingest(now, aggSample(2, ts.Add(time.Millisecond), 20)))
	require.Nil(t, a.Ingest(now, aggSample(3, ts.Add(3*time.Millisecond), 30)))

	// Node 4 shows up in the next window; the open frame closes with the
	// three values it has, and the straggler opens a new one.
	f := a.Ingest(now, aggSample(4, ts.Add(31*time.Millisecond), 40))
	require.NotNil(t, f)
	require.False(t, f.Complete)
	require.Len(t, f.Values, 3)
	require.NotContains(t, f.Values, scale.NodeID(4))
	require.Equal(t, 1, a.Pending())
}

func TestAggregatorAgeClosesOnIngest(t *testing.T) {
	cfg := aggConfig
	require.NoError(t, cfg.Validate())
	a := scale.NewFrameAggregator(cfg)

	now := time.Unix(1700000000, 0)
	ts := now

	require.Nil(t, a.Ingest(now, aggSample(1, ts, 10)))

	// The second sample is within tolerance by data time but arrives after
	// the frame has aged out by wallclock; age wins.
	f := a.Ingest(
		now.Add(60*time.Millisecond),
		aggSample(2, ts.Add(time.Millisecond), 20),
	)
	require.NotNil(t, f)
	require.False(t, f.Complete)
	require.Equal(t, map[scale.NodeID]float64{1: 10}, f.Values)
	require.Equal(t, 1, a.Pending())
}

func TestAggregatorFlushAged(t *testing.T) {
	cfg := aggConfig
	require.NoError(t, cfg.Validate())
	a := scale.NewFrameAggregator(cfg)

	now := time.Unix(1700000000, 0)
	require.Nil(t, a.Ingest(now, aggSample(1, now, 10)))
	require.Nil(t, a.Ingest(now, aggSample(2, now.Add(time.Millisecond), 20)))

	// Still inside the frame timeout.
	require.Nil(t, a.FlushAged(now.Add(40*time.Millisecond)))

	f := a.FlushAged(now.Add(51 * time.Millisecond))
	require.NotNil(t, f)
	require.False(t, f.Complete)
	require.Len(t, f.Values, 2)
	require.Zero(t, a.Pending())

	// Nothing open, nothing to flush.
	require.Nil(t, a.FlushAged(now.Add(time.Hour)))
}

func TestAggregatorDuplicateNodeOverwrites(t *testing.T) {
	cfg := aggConfig
	require.NoError(t, cfg.Validate())
	a := scale.NewFrameAggregator(cfg)

	now := time.Unix(1700000000, 0)
	require.Nil(t, a.Ingest(now, aggSample(1, now, 10)))
	require.Nil(t, a.Ingest(now, aggSample(1, now.Add(time.Millisecond), 11)))
	require.Equal(t, 1, a.Pending())

	f := a.FlushAged(now.Add(51 * time.Millisecond))
	require.NotNil(t, f)
	require.Equal(t, map[scale.NodeID]float64{1: 11}, f.Values)
}

func TestAggregatorSingleNodeCompletesInstantly(t *testing.T) {
	cfg := scale.Config{Nodes: []scale.Node{{ID: 7, Name: "solo"}}}
	require.NoError(t, cfg.Validate())
	a := scale.NewFrameAggregator(cfg)

	now := time.Unix(1700000000, 0)
	f := a.Ingest(now, aggSample(7, now, 10))
	require.NotNil(t, f)
	require.True(t, f.Complete)
	require.Zero(t, a.Pending())
}

func TestAggregatorConsecutiveWindows(t *testing.T) {
	cfg := aggConfig
	require.NoError(t, cfg.Validate())
	a := scale.NewFrameAggregator(cfg)

	now := time.Unix(1700000000, 0)
	step := 31250 * time.Microsecond // 32 Hz

	for frame := 0; frame < 5; frame++ {
		ts := now.Add(time.Duration(frame) * step)
		for id := scale.NodeID(1); id <= 3; id++ {
			require.Nil(t, a.Ingest(ts, aggSample(id, ts, float64(id))))
		}
		f := a.Ingest(ts, aggSample(4, ts.Add(time.Millisecond), 4))
		require.NotNil(t, f, "frame %d", frame)
		require.True(t, f.Complete, "frame %d", frame)
		require.Equal(t, ts, f.Timestamp, "frame %d", frame)
	}
}
