// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package scale

import (
	"log/slog"
	"time"
)

type (
	// NodeNet is one node's contribution to an output frame.
	NodeNet struct {
		Name string

		// Smoothed is the filtered weight before tare subtraction.
		Smoothed float64

		// Net is the smoothed weight minus the node's tare offset.
		Net float64

		Health HealthState

		// Missing reports that the frame carried no value for this node; the
		// smoothed and net values are then the last known ones, not updates.
		Missing bool
	}

	// Output is the per-frame record emitted to the presentation boundary,
	// the core's sole externally observable product.
	Output struct {
		FrameTimestamp time.Time

		// PerNode holds every configured node that has contributed at least
		// one smoothed value so far.
		PerNode map[NodeID]NodeNet

		// TotalNet sums net values over nodes currently online. Stale and
		// unseen nodes are excluded outright, never counted as zero.
		TotalNet float64

		// StaleNodes lists configured nodes not online at frame time, in
		// ascending ID order.
		StaleNodes []NodeID

		Complete bool
	}
)

// Attrs exposes the output's structured attributes for slog.
func (o Output) Attrs() []slog.Attr {
	a := make([]slog.Attr, 0, 5)
	a = append(a,
		slog.Time("frame_timestamp", o.FrameTimestamp),
		slog.Float64("total_net_kg", o.TotalNet),
		slog.Bool("complete", o.Complete),
		slog.Int("nodes", len(o.PerNode)),
	)
	if len(o.StaleNodes) > 0 {
		a = append(a, slog.Any("stale_nodes", o.StaleNodes))
	}
	return a
}
