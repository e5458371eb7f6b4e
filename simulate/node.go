// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package simulate

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/loadgrid/weighcore/scale"
)

// Default node behavior, tuned to look like a healthy SG-Link cell on a
// lightly loaded platform.
const (
	// DefaultNoise is the Gaussian noise sigma as a fraction of the base
	// load.
	DefaultNoise = 0.02

	// DefaultDriftRate is the base-load drift per sample in kg.
	DefaultDriftRate = 0.001

	// DefaultFlipProbability is the per-sample chance that the drift walk
	// reverses direction.
	DefaultFlipProbability = 0.01

	// DefaultPacketLoss is the per-sample chance that a reading is lost in
	// the air.
	DefaultPacketLoss = 0.02

	// DefaultRSSILow and DefaultRSSIHigh bound the reported signal strength
	// in dBm.
	DefaultRSSILow  = -75
	DefaultRSSIHigh = -45

	// DefaultSkew bounds the per-sample timestamp jitter, modeling the
	// independent node clocks staying within a frame tolerance.
	DefaultSkew = 50 * time.Microsecond

	// Initial base load range in kg.
	baseMin = 5.0
	baseMax = 15.0

	// Impulses decay multiplicatively each sample and are zeroed below this
	// threshold.
	spikeDecayFactor = 0.9
	spikeFloor       = 0.01
)

// NodeSim models one wireless load-cell node: a slowly drifting base load
// with Gaussian noise on top, occasional packet loss, and a settable
// offline state. All methods are safe for concurrent use.
type NodeSim struct {
	node scale.Node

	mu      sync.Mutex
	rand    *rand.Rand
	base    float64
	spike   float64
	drift   float64
	driftUp bool
	flip    float64
	noise   float64
	loss    float64
	skew    time.Duration
	rssiLo  int
	rssiHi  int
	offline bool
}

// NewNodeSim creates a node simulator with default behavior and a base load
// drawn from the initial range. The same seed reproduces the same reading
// sequence.
func NewNodeSim(node scale.Node, seed int64) *NodeSim {
	r := rand.New(rand.NewSource(seed)) // #nosec G404
	return &NodeSim{
		node:    node,
		rand:    r,
		base:    baseMin + r.Float64()*(baseMax-baseMin),
		drift:   DefaultDriftRate,
		driftUp: r.Intn(2) == 0,
		flip:    DefaultFlipProbability,
		noise:   DefaultNoise,
		loss:    DefaultPacketLoss,
		skew:    DefaultSkew,
		rssiLo:  DefaultRSSILow,
		rssiHi:  DefaultRSSIHigh,
	}
}

// Node returns the configuration of the simulated node.
func (n *NodeSim) Node() scale.Node {
	return n.node
}

// Next produces the node's reading for a sweep at the given time. It
// reports false when the node is offline or the packet was lost.
func (n *NodeSim) Next(now time.Time) (scale.RawSample, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.offline || n.rand.Float64() < n.loss {
		return scale.RawSample{}, false
	}

	// Slow drift walk with occasional direction flips.
	if n.driftUp {
		n.base += n.drift
	} else {
		n.base -= n.drift
	}
	if n.rand.Float64() < n.flip {
		n.driftUp = !n.driftUp
	}

	if n.spike != 0 {
		n.spike *= spikeDecayFactor
		if math.Abs(n.spike) < spikeFloor {
			n.spike = 0
		}
	}

	value := n.base + n.spike
	if n.noise > 0 {
		value += n.rand.NormFloat64() * n.noise * n.base
	}

	return scale.RawSample{
		NodeID:    n.node.ID,
		Timestamp: now.Add(n.jitter()),
		Value:     value,
		RSSI:      n.rssi(),
	}, true
}

func (n *NodeSim) jitter() time.Duration {
	if n.skew <= 0 {
		return 0
	}
	return time.Duration(n.rand.Int63n(int64(2*n.skew))) - n.skew
}

func (n *NodeSim) rssi() int {
	if n.rssiHi <= n.rssiLo {
		return n.rssiLo
	}
	return n.rssiLo + n.rand.Intn(n.rssiHi-n.rssiLo+1)
}

// Base returns the current base load in kg, before noise.
func (n *NodeSim) Base() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.base
}

// SetBase pins the base load to an exact value, returning the previous one.
func (n *NodeSim) SetBase(kg float64) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	prev := n.base
	n.base = kg
	return prev
}

// ApplyLoad adds weight onto the cell.
func (n *NodeSim) ApplyLoad(kg float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.base += kg
}

// RemoveLoad takes weight off the cell.
func (n *NodeSim) RemoveLoad(kg float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.base -= kg
}

// Spike adds a decaying impulse, like an object dropped on the platform.
func (n *NodeSim) Spike(kg float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.spike += kg
}

// SetOffline sets whether the node responds at all, returning the previous
// state.
func (n *NodeSim) SetOffline(offline bool) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	prev := n.offline
	n.offline = offline
	return prev
}

// SetNoise sets the Gaussian noise sigma as a fraction of the base load,
// returning the previous value. Zero disables noise.
func (n *NodeSim) SetNoise(sigma float64) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	prev := n.noise
	n.noise = sigma
	return prev
}

// SetDrift sets the drift per sample in kg, returning the previous value.
// Zero freezes the base load.
func (n *NodeSim) SetDrift(rate float64) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	prev := n.drift
	n.drift = rate
	return prev
}

// SetPacketLoss sets the per-sample loss probability, returning the
// previous value.
func (n *NodeSim) SetPacketLoss(p float64) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	prev := n.loss
	n.loss = p
	return prev
}

// SetRSSIRange bounds the reported signal strength, returning the previous
// bounds.
func (n *NodeSim) SetRSSIRange(low, high int) (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	prevLo, prevHi := n.rssiLo, n.rssiHi
	n.rssiLo, n.rssiHi = low, high
	return prevLo, prevHi
}
