// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package scale

import (
	"log/slog"
	"sync/atomic"
)

type (
	// Stats aggregates the pipeline's drop and throughput counters. Every
	// rejected or degraded input is visible here rather than raised as an
	// error across the core boundary.
	Stats struct {
		samplesTotal       atomic.Uint64
		samplesValid       atomic.Uint64
		droppedOutOfRange  atomic.Uint64
		droppedUnknownNode atomic.Uint64
		framesComplete     atomic.Uint64
		framesIncomplete   atomic.Uint64
		outputsEmitted     atomic.Uint64
		outputsDropped     atomic.Uint64
		tareCaptures       atomic.Uint64
	}

	// StatsSnapshot is a point-in-time copy of the counters.
	StatsSnapshot struct {
		SamplesTotal       uint64
		SamplesValid       uint64
		DroppedOutOfRange  uint64
		DroppedUnknownNode uint64
		FramesComplete     uint64
		FramesIncomplete   uint64
		OutputsEmitted     uint64
		OutputsDropped     uint64
		TareCaptures       uint64
	}
)

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		SamplesTotal:       s.samplesTotal.Load(),
		SamplesValid:       s.samplesValid.Load(),
		DroppedOutOfRange:  s.droppedOutOfRange.Load(),
		DroppedUnknownNode: s.droppedUnknownNode.Load(),
		FramesComplete:     s.framesComplete.Load(),
		FramesIncomplete:   s.framesIncomplete.Load(),
		OutputsEmitted:     s.outputsEmitted.Load(),
		OutputsDropped:     s.outputsDropped.Load(),
		TareCaptures:       s.tareCaptures.Load(),
	}
}

// Frames returns the total number of closed frames counted.
func (s StatsSnapshot) Frames() uint64 {
	return s.FramesComplete + s.FramesIncomplete
}

// Attrs exposes the snapshot's structured attributes for slog.
func (s StatsSnapshot) Attrs() []slog.Attr {
	return []slog.Attr{
		slog.Uint64("samples_total", s.SamplesTotal),
		slog.Uint64("samples_valid", s.SamplesValid),
		slog.Uint64("dropped_out_of_range", s.DroppedOutOfRange),
		slog.Uint64("dropped_unknown_node", s.DroppedUnknownNode),
		slog.Uint64("frames_complete", s.FramesComplete),
		slog.Uint64("frames_incomplete", s.FramesIncomplete),
		slog.Uint64("outputs_emitted", s.OutputsEmitted),
		slog.Uint64("outputs_dropped", s.OutputsDropped),
		slog.Uint64("tare_captures", s.TareCaptures),
	}
}
