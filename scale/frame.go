// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package scale

import "time"

type (
	// Frame is the set of per-node values judged to represent the same
	// instant. Frames are handed to the filter stage once and not retained.
	Frame struct {
		// Timestamp is the timestamp of the first sample in the window.
		Timestamp time.Time

		Values map[NodeID]float64

		// Complete reports whether every expected node contributed a value.
		Complete bool
	}

	// FrameAggregator groups near-simultaneous per-node samples into frames.
	// It holds at most one open frame; a sample joins it while within the
	// timestamp tolerance and otherwise force-closes it, complete or not. A
	// frame also force-closes once its wallclock age exceeds the frame
	// timeout, so a slow or silent node can never stall the pipeline.
	//
	// The aggregator is not safe for concurrent use; it is owned by the
	// engine's consumer goroutine, which supplies the wallclock.
	FrameAggregator struct {
		tolerance time.Duration
		timeout   time.Duration
		expect    int

		open     *Frame
		openedAt time.Time
	}
)

// NewFrameAggregator returns an aggregator expecting one value per
// configured node. The config must have been validated.
func NewFrameAggregator(cfg Config) *FrameAggregator {
	return &FrameAggregator{
		tolerance: cfg.TimestampTolerance,
		timeout:   cfg.FrameTimeout,
		expect:    len(cfg.Nodes),
	}
}

// Ingest adds one sample and returns the frame it caused to close, or nil
// while the open frame is still collecting.
func (a *FrameAggregator) Ingest(now time.Time, s RawSample) *Frame {
	var closed *Frame

	if a.open != nil {
		age := now.Sub(a.openedAt)
		skew := s.Timestamp.Sub(a.open.Timestamp)
		if skew < 0 {
			skew = -skew
		}
		if age > a.timeout || skew > a.tolerance {
			f := a.close()
			closed = &f
		}
	}

	if a.open == nil {
		a.open = &Frame{
			Timestamp: s.Timestamp,
			Values:    make(map[NodeID]float64, a.expect),
		}
		a.openedAt = now
	}

	// Duplicate reports for a node within one window overwrite; last wins.
	a.open.Values[s.NodeID] = s.Value

	if len(a.open.Values) == a.expect {
		// Cannot collide with a close above: a frame opened by this sample
		// completes only when one node is expected, and then no frame ever
		// stays open between calls.
		f := a.close()
		closed = &f
	}
	return closed
}

// FlushAged closes the open frame once its age exceeds the frame timeout.
// The engine calls this periodically so the timeout holds even when no
// further samples arrive.
func (a *FrameAggregator) FlushAged(now time.Time) *Frame {
	if a.open == nil || now.Sub(a.openedAt) <= a.timeout {
		return nil
	}
	f := a.close()
	return &f
}

// Pending reports how many values the open frame holds.
func (a *FrameAggregator) Pending() int {
	if a.open == nil {
		return 0
	}
	return len(a.open.Values)
}

func (a *FrameAggregator) close() Frame {
	f := *a.open
	f.Complete = len(f.Values) == a.expect
	a.open = nil
	return f
}
