// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package scale

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/loadgrid/weighcore/errors"
	"github.com/loadgrid/weighcore/iso"
)

type (
	// NodeID identifies one physical load-cell node on the radio network.
	NodeID uint32

	// Node describes one configured load-cell node.
	Node struct {
		ID      NodeID `json:"id"`
		Name    string `json:"name"`
		Channel string `json:"channel,omitempty"`
	}

	// Config is the acquisition core's configuration surface. The zero value
	// of any field selects its default; Validate rejects values that remain
	// invalid after defaulting.
	Config struct {
		// SampleRate is the nominal per-node sample rate in Hz.
		SampleRate float64

		// TimestampTolerance bounds how far apart two sample timestamps may
		// be while still belonging to the same frame.
		TimestampTolerance time.Duration

		// FrameTimeout bounds how long a frame may stay open, complete or
		// not, before it is force-closed.
		FrameTimeout time.Duration

		// AcquisitionTimeout declares a node's radio link stale when no
		// sample has arrived within it.
		AcquisitionTimeout time.Duration

		// ProcessingTimeout declares a node's signal stale when no frame has
		// carried a value for it within it. It gates which nodes contribute
		// to the total.
		ProcessingTimeout time.Duration

		// MedianWindow is the de-spike window size in samples. Must be odd.
		MedianWindow int

		// SmoothingAlpha is the EMA coefficient in (0, 1]. 1 disables
		// smoothing.
		SmoothingAlpha float64

		// MaxWeight is the symmetric validity bound in kg; samples outside
		// ±MaxWeight are rejected before aggregation.
		MaxWeight float64

		// Nodes is the fixed set of expected nodes. Samples from IDs outside
		// this set are rejected.
		Nodes []Node
	}
)

// Defaults for the platform scale deployment this core was built for, four
// cells at 32 Hz.
const (
	DefaultSampleRate         = 32.0
	DefaultTimestampTolerance = 10 * time.Millisecond
	DefaultFrameTimeout       = 50 * time.Millisecond
	DefaultAcquisitionTimeout = 5 * time.Second
	DefaultProcessingTimeout  = 3 * time.Second
	DefaultMedianWindow       = 5
	DefaultSmoothingAlpha     = 0.3
	DefaultMaxWeight          = 50000.0
)

// DefaultNodes is the default four-corner node set.
var DefaultNodes = []Node{
	{ID: 11111, Name: "front-left", Channel: "ch1"},
	{ID: 22222, Name: "front-right", Channel: "ch1"},
	{ID: 67890, Name: "rear-left", Channel: "ch1"},
	{ID: 12345, Name: "rear-right", Channel: "ch1"},
}

// String returns the node ID in its on-wire decimal form.
func (id NodeID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// DefaultConfig returns the configuration with every field at its default.
func DefaultConfig() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.TimestampTolerance == 0 {
		c.TimestampTolerance = DefaultTimestampTolerance
	}
	if c.FrameTimeout == 0 {
		c.FrameTimeout = DefaultFrameTimeout
	}
	if c.AcquisitionTimeout == 0 {
		c.AcquisitionTimeout = DefaultAcquisitionTimeout
	}
	if c.ProcessingTimeout == 0 {
		c.ProcessingTimeout = DefaultProcessingTimeout
	}
	if c.MedianWindow == 0 {
		c.MedianWindow = DefaultMedianWindow
	}
	if c.SmoothingAlpha == 0 {
		c.SmoothingAlpha = DefaultSmoothingAlpha
	}
	if c.MaxWeight == 0 {
		c.MaxWeight = DefaultMaxWeight
	}
	if len(c.Nodes) == 0 {
		c.Nodes = append([]Node{}, DefaultNodes...)
	}
}

// Validate applies defaults and then fails fast on any remaining invalid
// value.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.SampleRate <= 0 {
		return &errors.Error{
			Message:       "sample rate must be positive",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "SampleRate",
			PropertyValue: c.SampleRate,
		}
	}
	if c.TimestampTolerance <= 0 {
		return &errors.Error{
			Message:       "timestamp tolerance must be positive",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "TimestampTolerance",
			PropertyValue: c.TimestampTolerance,
		}
	}
	if c.FrameTimeout <= 0 {
		return &errors.Error{
			Message:       "frame timeout must be positive",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "FrameTimeout",
			PropertyValue: c.FrameTimeout,
		}
	}
	if c.AcquisitionTimeout <= 0 {
		return &errors.Error{
			Message:       "acquisition timeout must be positive",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "AcquisitionTimeout",
			PropertyValue: c.AcquisitionTimeout,
		}
	}
	if c.ProcessingTimeout <= 0 {
		return &errors.Error{
			Message:       "processing timeout must be positive",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "ProcessingTimeout",
			PropertyValue: c.ProcessingTimeout,
		}
	}
	if c.MedianWindow < 1 || c.MedianWindow%2 == 0 {
		return &errors.Error{
			Message:       "median window must be a positive odd count",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "MedianWindow",
			PropertyValue: c.MedianWindow,
		}
	}
	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1 {
		return &errors.Error{
			Message:       "smoothing alpha must be in (0, 1]",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "SmoothingAlpha",
			PropertyValue: c.SmoothingAlpha,
		}
	}
	if c.MaxWeight <= 0 {
		return &errors.Error{
			Message:       "max weight must be positive",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "MaxWeight",
			PropertyValue: c.MaxWeight,
		}
	}

	seen := make(map[NodeID]struct{}, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.ID == 0 {
			return &errors.Error{
				Message:      "node ID must be nonzero",
				Kind:         errors.ConfigurationInvalid,
				PropertyName: "Nodes",
			}
		}
		if _, dup := seen[n.ID]; dup {
			return &errors.Error{
				Message:       "duplicate node ID",
				Kind:          errors.ConfigurationInvalid,
				PropertyName:  "Nodes",
				PropertyValue: n.ID,
				NodeID:        uint32(n.ID),
			}
		}
		seen[n.ID] = struct{}{}
	}
	return nil
}

// NodeByID returns the configured node for an ID.
func (c *Config) NodeByID(id NodeID) (Node, bool) {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// fileConfig is the on-disk JSON form of Config, with ISO 8601 durations.
type fileConfig struct {
	SampleRate         float64      `json:"sample_rate,omitempty"`
	TimestampTolerance iso.Duration `json:"timestamp_tolerance,omitempty"`
	FrameTimeout       iso.Duration `json:"frame_timeout,omitempty"`
	AcquisitionTimeout iso.Duration `json:"acquisition_timeout,omitempty"`
	ProcessingTimeout  iso.Duration `json:"processing_timeout,omitempty"`
	MedianWindow       int          `json:"median_window,omitempty"`
	SmoothingAlpha     float64      `json:"smoothing_alpha,omitempty"`
	MaxWeight          float64      `json:"max_weight,omitempty"`
	Nodes              []Node       `json:"nodes,omitempty"`
}

// LoadConfig reads a JSON configuration file, applies defaults for absent
// fields, and validates the result.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &errors.Error{
			Message:       fmt.Sprintf("read config: %s", err),
			Kind:          errors.ConfigurationInvalid,
			NestedError:   err,
			PropertyName:  "path",
			PropertyValue: path,
		}
	}
	return ParseConfig(data)
}

// ParseConfig parses the JSON configuration form, applies defaults for
// absent fields, and validates the result.
func ParseConfig(data []byte) (Config, error) {
	var file fileConfig
	if err := json.Unmarshal(data, &file); err != nil {
		return Config{}, &errors.Error{
			Message:     fmt.Sprintf("parse config: %s", err),
			Kind:        errors.ConfigurationInvalid,
			NestedError: err,
		}
	}

	cfg := Config{
		SampleRate:         file.SampleRate,
		TimestampTolerance: time.Duration(file.TimestampTolerance),
		FrameTimeout:       time.Duration(file.FrameTimeout),
		AcquisitionTimeout: time.Duration(file.AcquisitionTimeout),
		ProcessingTimeout:  time.Duration(file.ProcessingTimeout),
		MedianWindow:       file.MedianWindow,
		SmoothingAlpha:     file.SmoothingAlpha,
		MaxWeight:          file.MaxWeight,
		Nodes:              file.Nodes,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
