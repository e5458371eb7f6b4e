// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package scale

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loadgrid/weighcore/errors"
	"github.com/loadgrid/weighcore/internal/log"
	"github.com/loadgrid/weighcore/internal/wallclock"
)

type (
	// WeighingEngine orchestrates the acquisition pipeline: samples from the
	// node streams are validated, aggregated into frames, de-spiked,
	// smoothed, and tared into one net-weight output per frame.
	//
	// Producers call Ingest concurrently; a single consumer goroutine owns
	// the aggregator, filter states, and health tables. Tare operations may
	// run from a control goroutine at any time.
	WeighingEngine struct {
		cfg   Config
		log   log.Logger
		clock wallclock.WallClock

		ingestBuffer int
		outputBuffer int

		samples chan RawSample
		outputs chan Output

		stats Stats
		tara  *TaraManager
		agg   *FrameAggregator

		// mu guards the consumer-owned state below so control and
		// diagnostic callers can snapshot it between frames. The consumer
		// holds it once per dequeued sample.
		mu        sync.RWMutex
		medians   map[NodeID]*MedianFilter
		smoothers map[NodeID]*ExponentialSmoother
		acq       *NodeHealthMonitor
		proc      *NodeHealthMonitor
		smoothed  map[NodeID]float64
		lastNet   map[NodeID]float64
		lastRSSI  map[NodeID]int
		counts    map[NodeID]uint64

		started  atomic.Bool
		stop     chan struct{}
		stopOnce sync.Once
		done     chan struct{}
	}

	// FilterState is a diagnostic snapshot of one node's filter cascade.
	FilterState struct {
		// Window holds the median window's raw values, oldest first.
		Window []float64

		// Smoothed is the EMA state; meaningful only when Seeded.
		Smoothed float64
		Seeded   bool

		// LastNet is the node's last computed net weight.
		LastNet float64
	}

	// NodeState is a diagnostic snapshot of one node's liveness.
	NodeState struct {
		Node Node

		// Acquisition is the radio-link liveness state; Processing is the
		// signal-level state that gates totals.
		Acquisition HealthState
		Processing  HealthState

		LastSeen time.Time
		LastRSSI int
		Samples  uint64
	}
)

// NewWeighingEngine validates the configuration and assembles the pipeline.
func NewWeighingEngine(
	cfg Config,
	opts ...EngineOption,
) (*WeighingEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &WeighingEngine{
		cfg:          cfg,
		clock:        wallclock.Instance,
		ingestBuffer: 128,
		outputBuffer: 16,
		tara:         NewTaraManager(),
		agg:          NewFrameAggregator(cfg),
		medians:      make(map[NodeID]*MedianFilter, len(cfg.Nodes)),
		smoothers:    make(map[NodeID]*ExponentialSmoother, len(cfg.Nodes)),
		acq:          NewNodeHealthMonitor(cfg.AcquisitionTimeout, cfg.Nodes),
		proc:         NewNodeHealthMonitor(cfg.ProcessingTimeout, cfg.Nodes),
		smoothed:     map[NodeID]float64{},
		lastNet:      map[NodeID]float64{},
		lastRSSI:     map[NodeID]int{},
		counts:       map[NodeID]uint64{},
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.ingestBuffer < 1 {
		e.ingestBuffer = 1
	}
	if e.outputBuffer < 1 {
		e.outputBuffer = 1
	}
	e.samples = make(chan RawSample, e.ingestBuffer)
	e.outputs = make(chan Output, e.outputBuffer)

	for _, n := range cfg.Nodes {
		median, err := NewMedianFilter(cfg.MedianWindow)
		if err != nil {
			return nil, err
		}
		smoother, err := NewExponentialSmoother(cfg.SmoothingAlpha)
		if err != nil {
			return nil, err
		}
		e.medians[n.ID] = median
		e.smoothers[n.ID] = smoother
	}
	return e, nil
}

// Start launches the consumer goroutine. The engine stops when ctx is
// canceled or Close is called, whichever first.
func (e *WeighingEngine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return &errors.Error{
			Message: "weighing engine already started",
			Kind:    errors.StateInvalid,
		}
	}
	e.log.Info(ctx, "weighing engine started",
		slog.Int("nodes", len(e.cfg.Nodes)),
		slog.Float64("sample_rate_hz", e.cfg.SampleRate),
		slog.Duration("timestamp_tolerance", e.cfg.TimestampTolerance),
		slog.Duration("frame_timeout", e.cfg.FrameTimeout),
	)
	go e.run(ctx)
	return nil
}

// Close stops the consumer and closes the output channel. The in-flight
// open frame and any queued samples are discarded, not flushed. Close is
// idempotent and safe to call from any goroutine.
func (e *WeighingEngine) Close() {
	e.stopOnce.Do(func() { close(e.stop) })
	if e.started.Load() {
		<-e.done
	}
}

// Outputs returns the channel of per-frame outputs, closed on shutdown.
func (e *WeighingEngine) Outputs() <-chan Output {
	return e.outputs
}

// Ingest validates one sample and queues it for the consumer. Rejected
// samples are counted and logged; the returned error lets the producer
// observe the rejection but requires no handling.
func (e *WeighingEngine) Ingest(ctx context.Context, s RawSample) error {
	e.stats.samplesTotal.Add(1)

	if err := checkSample(&e.cfg, s); err != nil {
		switch err.Kind {
		case errors.UnknownNode:
			e.stats.droppedUnknownNode.Add(1)
		case errors.SampleOutOfRange:
			e.stats.droppedOutOfRange.Add(1)
		}
		e.log.Err(ctx, err)
		return err
	}
	e.stats.samplesValid.Add(1)

	select {
	case e.samples <- s:
		return nil
	case <-e.stop:
		return &errors.Error{
			Message: "weighing engine closed",
			Kind:    errors.StateInvalid,
		}
	case <-ctx.Done():
		return &errors.Error{
			Message:     "ingest canceled",
			Kind:        errors.Cancellation,
			NestedError: ctx.Err(),
		}
	}
}

func (e *WeighingEngine) run(ctx context.Context) {
	defer close(e.done)
	defer close(e.outputs)
	defer e.stopOnce.Do(func() { close(e.stop) })

	// The tick bounds frame age and drives liveness checks between
	// arrivals.
	tick := e.clock.NewTicker(e.cfg.FrameTimeout / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info(ctx, "weighing engine stopped",
				slog.Any("cause", context.Cause(ctx)),
			)
			return

		case <-e.stop:
			e.log.Info(ctx, "weighing engine stopped")
			return

		case s := <-e.samples:
			now := e.clock.Now()
			e.mu.Lock()
			e.observe(ctx, s, now)
			if f := e.agg.Ingest(now, s); f != nil {
				e.process(ctx, *f, now)
			}
			e.mu.Unlock()

		case <-tick.C():
			now := e.clock.Now()
			e.mu.Lock()
			if f := e.agg.FlushAged(now); f != nil {
				e.process(ctx, *f, now)
			}
			e.expire(ctx, now)
			e.mu.Unlock()
		}
	}
}

// observe records link-level liveness for a dequeued sample.
func (e *WeighingEngine) observe(
	ctx context.Context,
	s RawSample,
	now time.Time,
) {
	e.counts[s.NodeID]++
	e.lastRSSI[s.NodeID] = s.RSSI
	if tr := e.acq.Observe(s.NodeID, now); tr != nil {
		e.logTransition(ctx, "node link", *tr)
	}
}

// expire fires the pending ONLINE -> STALE edges on both monitors.
func (e *WeighingEngine) expire(ctx context.Context, now time.Time) {
	for _, tr := range e.acq.Check(now) {
		e.logTransition(ctx, "node link", tr)
	}
	for _, tr := range e.proc.Check(now) {
		e.logTransition(ctx, "node signal", tr)
	}
}

// process runs one closed frame through the filter cascade and emits the
// resulting output.
func (e *WeighingEngine) process(ctx context.Context, f Frame, now time.Time) {
	if f.Complete {
		e.stats.framesComplete.Add(1)
	} else {
		e.stats.framesIncomplete.Add(1)
		e.log.Debug(ctx, "incomplete frame",
			slog.Time("frame_timestamp", f.Timestamp),
			slog.Int("values", len(f.Values)),
		)
	}

	for id, raw := range f.Values {
		median := e.medians[id].Push(raw)
		smoothed := e.smoothers[id].Update(median)
		e.smoothed[id] = smoothed
		e.lastNet[id] = e.tara.Net(id, smoothed)
		if tr := e.proc.Observe(id, now); tr != nil {
			e.logTransition(ctx, "node signal", *tr)
		}
	}

	// Signal staleness is settled against the frame's own clock so the
	// gating below is exact, not one tick late.
	for _, tr := range e.proc.Check(now) {
		e.logTransition(ctx, "node signal", tr)
	}

	out := Output{
		FrameTimestamp: f.Timestamp,
		PerNode:        make(map[NodeID]NodeNet, len(e.smoothed)),
		Complete:       f.Complete,
	}
	for id, smoothed := range e.smoothed {
		_, present := f.Values[id]
		node, _ := e.cfg.NodeByID(id)
		nn := NodeNet{
			Name:     node.Name,
			Smoothed: smoothed,
			Net:      e.lastNet[id],
			Health:   e.proc.State(id),
			Missing:  !present,
		}
		out.PerNode[id] = nn
		if nn.Health == Online {
			out.TotalNet += nn.Net
		}
	}
	for _, n := range e.cfg.Nodes {
		if e.proc.State(n.ID) != Online {
			out.StaleNodes = append(out.StaleNodes, n.ID)
		}
	}
	slices.Sort(out.StaleNodes)

	e.emit(ctx, out)
}

// emit delivers the output without ever blocking the consumer; when the
// buffer is full the oldest pending output is dropped so a lagging reader
// always catches up to the current weight.
func (e *WeighingEngine) emit(ctx context.Context, out Output) {
	for {
		select {
		case e.outputs <- out:
			e.stats.outputsEmitted.Add(1)
			return
		default:
		}
		select {
		case <-e.outputs:
			e.stats.outputsDropped.Add(1)
			e.log.Debug(ctx, "output dropped, consumer lagging")
		default:
		}
	}
}

func (e *WeighingEngine) logTransition(
	ctx context.Context,
	layer string,
	tr HealthTransition,
) {
	level := slog.LevelInfo
	if tr.To == Stale {
		level = slog.LevelWarn
	}
	node, _ := e.cfg.NodeByID(tr.NodeID)
	e.log.Log(ctx, level, layer+" "+tr.To.String(),
		slog.Uint64("node_id", uint64(tr.NodeID)),
		slog.String("node_name", node.Name),
		slog.String("from", tr.From.String()),
		slog.Time("last_seen", tr.LastSeen),
	)
}

// CaptureTare zeroes the selected nodes at their current smoothed values,
// or every node with a smoothed value when no selector is given. Nodes
// without a smoothed value, stale or unseen at this instant, keep their
// prior tare. It returns the offsets actually captured.
func (e *WeighingEngine) CaptureTare(
	ctx context.Context,
	nodes ...NodeID,
) (map[NodeID]float64, error) {
	if err := e.checkNodes(nodes); err != nil {
		return nil, err
	}

	e.mu.RLock()
	smoothed := maps.Clone(e.smoothed)
	e.mu.RUnlock()

	captured := e.tara.Capture(smoothed, nodes...)
	e.stats.tareCaptures.Add(1)
	e.log.Info(ctx, "tare captured", slog.Int("nodes", len(captured)))
	return captured, nil
}

// ClearTare resets the selected nodes' offsets, or all offsets when no
// selector is given.
func (e *WeighingEngine) ClearTare(ctx context.Context, nodes ...NodeID) error {
	if err := e.checkNodes(nodes); err != nil {
		return err
	}
	e.tara.Clear(nodes...)
	e.log.Info(ctx, "tare cleared", slog.Int("nodes", len(nodes)))
	return nil
}

// RestoreTare installs a previously saved tare table, replacing the
// current one.
func (e *WeighingEngine) RestoreTare(
	ctx context.Context,
	table map[NodeID]float64,
) error {
	if err := e.checkNodes(slices.Collect(maps.Keys(table))); err != nil {
		return err
	}
	e.tara.Restore(table)
	e.log.Info(ctx, "tare restored", slog.Int("nodes", len(table)))
	return nil
}

// Tares returns a copy of the tare table for persistence or diagnostics.
func (e *WeighingEngine) Tares() map[NodeID]float64 {
	return e.tara.Snapshot()
}

func (e *WeighingEngine) checkNodes(nodes []NodeID) error {
	for _, id := range nodes {
		if _, ok := e.cfg.NodeByID(id); !ok {
			return &errors.Error{
				Message:       "unconfigured node in selector",
				Kind:          errors.UnknownNode,
				NodeID:        uint32(id),
				PropertyName:  "NodeID",
				PropertyValue: id,
			}
		}
	}
	return nil
}

// FilterState returns a per-node diagnostic snapshot of the filter
// cascade.
func (e *WeighingEngine) FilterState() map[NodeID]FilterState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[NodeID]FilterState, len(e.medians))
	for id, median := range e.medians {
		fs := FilterState{Window: median.Window(), LastNet: e.lastNet[id]}
		fs.Smoothed, fs.Seeded = e.smoothers[id].Value()
		out[id] = fs
	}
	return out
}

// ResetFilters clears every node's filter cascade and last net value
// without touching the tare table.
func (e *WeighingEngine) ResetFilters(ctx context.Context) {
	e.mu.Lock()
	for _, median := range e.medians {
		median.Reset()
	}
	for _, smoother := range e.smoothers {
		smoother.Reset()
	}
	clear(e.smoothed)
	clear(e.lastNet)
	e.mu.Unlock()

	e.log.Info(ctx, "filters reset")
}

// NodeStatus returns a per-node diagnostic snapshot of liveness and radio
// quality.
func (e *WeighingEngine) NodeStatus() map[NodeID]NodeState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[NodeID]NodeState, len(e.cfg.Nodes))
	for _, n := range e.cfg.Nodes {
		st := NodeState{
			Node:        n,
			Acquisition: e.acq.State(n.ID),
			Processing:  e.proc.State(n.ID),
			LastRSSI:    e.lastRSSI[n.ID],
			Samples:     e.counts[n.ID],
		}
		if seen, ok := e.acq.LastSeen(n.ID); ok {
			st.LastSeen = seen
		}
		out[n.ID] = st
	}
	return out
}

// Stats returns a snapshot of the pipeline counters.
func (e *WeighingEngine) Stats() StatsSnapshot {
	return e.stats.Snapshot()
}
