// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package scale_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loadgrid/weighcore/errors"
	"github.com/loadgrid/weighcore/scale"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := scale.DefaultConfig()
	require.NoError(t, cfg.Validate())

	require.Equal(t, 32.0, cfg.SampleRate)
	require.Equal(t, 10*time.Millisecond, cfg.TimestampTolerance)
	require.Equal(t, 50*time.Millisecond, cfg.FrameTimeout)
	require.Equal(t, 5*time.Second, cfg.AcquisitionTimeout)
	require.Equal(t, 3*time.Second, cfg.ProcessingTimeout)
	require.Equal(t, 5, cfg.MedianWindow)
	require.Equal(t, 0.3, cfg.SmoothingAlpha)
	require.Equal(t, 50000.0, cfg.MaxWeight)
	require.Len(t, cfg.Nodes, 4)

	n, ok := cfg.NodeByID(11111)
	require.True(t, ok)
	require.Equal(t, "front-left", n.Name)

	_, ok = cfg.NodeByID(99999)
	require.False(t, ok)
}

func TestConfigValidateFailsFast(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*scale.Config)
		property string
	}{
		{
			"alpha above one",
			func(c *scale.Config) { c.SmoothingAlpha = 1.2 },
			"SmoothingAlpha",
		},
		{
			"alpha negative",
			func(c *scale.Config) { c.SmoothingAlpha = -0.3 },
			"SmoothingAlpha",
		},
		{
			"even median window",
			func(c *scale.Config) { c.MedianWindow = 4 },
			"MedianWindow",
		},
		{
			"negative tolerance",
			func(c *scale.Config) { c.TimestampTolerance = -time.Millisecond },
			"TimestampTolerance",
		},
		{
			"negative frame timeout",
			func(c *scale.Config) { c.FrameTimeout = -time.Second },
			"FrameTimeout",
		},
		{
			"negative acquisition timeout",
			func(c *scale.Config) { c.AcquisitionTimeout = -time.Second },
			"AcquisitionTimeout",
		},
		{
			"negative processing timeout",
			func(c *scale.Config) { c.ProcessingTimeout = -time.Second },
			"ProcessingTimeout",
		},
		{
			"negative sample rate",
			func(c *scale.Config) { c.SampleRate = -32 },
			"SampleRate",
		},
		{
			"negative max weight",
			func(c *scale.Config) { c.MaxWeight = -1 },
			"MaxWeight",
		},
		{
			"duplicate node IDs",
			func(c *scale.Config) {
				c.Nodes = []scale.Node{{ID: 5, Name: "a"}, {ID: 5, Name: "b"}}
			},
			"Nodes",
		},
		{
			"zero node ID",
			func(c *scale.Config) {
				c.Nodes = []scale.Node{{ID: 0, Name: "a"}}
			},
			"Nodes",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := scale.DefaultConfig()
			test.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)

			typed, ok := err.(*errors.Error)
			require.True(t, ok)
			require.Equal(t, errors.ConfigurationInvalid, typed.Kind)
			require.Equal(t, test.property, typed.PropertyName)
		})
	}
}

func TestParseConfig(t *testing.T) {
	data := []byte(`{
		"sample_rate": 16,
		"timestamp_tolerance": "PT0.01S",
		"frame_timeout": "PT0.05S",
		"acquisition_timeout": "PT5S",
		"processing_timeout": "PT3S",
		"median_window": 7,
		"smoothing_alpha": 0.5,
		"nodes": [
			{"id": 101, "name": "left", "channel": "ch1"},
			{"id": 102, "name": "right", "channel": "ch1"}
		]
	}`)

	cfg, err := scale.ParseConfig(data)
	require.NoError(t, err)

	require.Equal(t, 16.0, cfg.SampleRate)
	require.Equal(t, 10*time.Millisecond, cfg.TimestampTolerance)
	require.Equal(t, 50*time.Millisecond, cfg.FrameTimeout)
	require.Equal(t, 5*time.Second, cfg.AcquisitionTimeout)
	require.Equal(t, 3*time.Second, cfg.ProcessingTimeout)
	require.Equal(t, 7, cfg.MedianWindow)
	require.Equal(t, 0.5, cfg.SmoothingAlpha)
	require.Equal(t, 50000.0, cfg.MaxWeight) // defaulted
	require.Len(t, cfg.Nodes, 2)
	require.Equal(t, scale.NodeID(101), cfg.Nodes[0].ID)
}

func TestParseConfigRejectsBadInput(t *testing.T) {
	_, err := scale.ParseConfig([]byte(`{"smoothing_alpha": 2}`))
	require.Error(t, err)

	_, err = scale.ParseConfig([]byte(`not json`))
	require.Error(t, err)

	typed, ok := err.(*errors.Error)
	require.True(t, ok)
	require.Equal(t, errors.ConfigurationInvalid, typed.Kind)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weigh.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"median_window": 3}`), 0o600))

	cfg, err := scale.LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.MedianWindow)
	require.Len(t, cfg.Nodes, 4)

	_, err = scale.LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
