// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package feed

import (
	"time"

	"github.com/loadgrid/weighcore/iso"
	"github.com/loadgrid/weighcore/scale"
)

type (
	// SamplePayload is one node reading as carried on the sample topic.
	SamplePayload struct {
		NodeID    uint32       `json:"node_id"`
		Channel   string       `json:"channel,omitempty"`
		Timestamp iso.DateTime `json:"timestamp"`
		Kg        float64      `json:"kg"`
		RSSI      int          `json:"rssi"`
	}

	// NodeWeight is one node's contribution within a published weight.
	NodeWeight struct {
		Name       string  `json:"name"`
		NetKg      float64 `json:"net_kg"`
		SmoothedKg float64 `json:"smoothed_kg"`
		Online     bool    `json:"online"`
		Missing    bool    `json:"missing,omitempty"`
	}

	// WeightPayload is one weighing output as carried on the weight topic.
	// Node entries are keyed by the node ID in decimal form.
	WeightPayload struct {
		Timestamp iso.DateTime          `json:"timestamp"`
		TotalKg   float64               `json:"total_kg"`
		Complete  bool                  `json:"complete"`
		Nodes     map[string]NodeWeight `json:"nodes"`
		Stale     []uint32              `json:"stale,omitempty"`
	}
)

// NewSamplePayload builds the wire form of one node reading.
func NewSamplePayload(channel string, s scale.RawSample) SamplePayload {
	return SamplePayload{
		NodeID:    uint32(s.NodeID),
		Channel:   channel,
		Timestamp: iso.DateTime(s.Timestamp),
		Kg:        s.Value,
		RSSI:      s.RSSI,
	}
}

// Sample converts the wire payload into an engine sample.
func (p SamplePayload) Sample() scale.RawSample {
	return scale.RawSample{
		NodeID:    scale.NodeID(p.NodeID),
		Timestamp: time.Time(p.Timestamp),
		Value:     p.Kg,
		RSSI:      p.RSSI,
	}
}

// NewWeightPayload builds the wire form of one weighing output.
func NewWeightPayload(out scale.Output) WeightPayload {
	nodes := make(map[string]NodeWeight, len(out.PerNode))
	for id, n := range out.PerNode {
		nodes[id.String()] = NodeWeight{
			Name:       n.Name,
			NetKg:      n.Net,
			SmoothedKg: n.Smoothed,
			Online:     n.Health == scale.Online,
			Missing:    n.Missing,
		}
	}

	var stale []uint32
	if len(out.StaleNodes) > 0 {
		stale = make([]uint32, len(out.StaleNodes))
		for i, id := range out.StaleNodes {
			stale[i] = uint32(id)
		}
	}

	return WeightPayload{
		Timestamp: iso.DateTime(out.FrameTimestamp),
		TotalKg:   out.TotalNet,
		Complete:  out.Complete,
		Nodes:     nodes,
		Stale:     stale,
	}
}
