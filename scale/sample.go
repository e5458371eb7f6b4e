// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package scale

import (
	"math"
	"time"

	"github.com/loadgrid/weighcore/errors"
)

// RawSample is one calibrated reading delivered by a node's stream. Samples
// are immutable and consumed exactly once by the aggregator.
type RawSample struct {
	NodeID    NodeID
	Timestamp time.Time

	// Value is the calibrated weight in kilograms.
	Value float64

	// RSSI is the received signal strength in dBm. Diagnostic only; it does
	// not influence processing.
	RSSI int
}

// checkSample rejects corrupt or unconfigured input before it can reach the
// aggregator.
func checkSample(cfg *Config, s RawSample) *errors.Error {
	if _, ok := cfg.NodeByID(s.NodeID); !ok {
		return &errors.Error{
			Message:       "sample from unconfigured node",
			Kind:          errors.UnknownNode,
			NodeID:        uint32(s.NodeID),
			PropertyName:  "NodeID",
			PropertyValue: s.NodeID,
		}
	}
	if math.IsNaN(s.Value) || math.Abs(s.Value) > cfg.MaxWeight {
		return &errors.Error{
			Message:       "sample value outside valid range",
			Kind:          errors.SampleOutOfRange,
			NodeID:        uint32(s.NodeID),
			PropertyName:  "Value",
			PropertyValue: s.Value,
		}
	}
	return nil
}
