// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package scale

import "time"

type (
	// HealthState is a node's position in the liveness state machine
	// UNSEEN -> ONLINE <-> STALE. There is no terminal state; a node cycles
	// between online and stale indefinitely.
	HealthState int

	// HealthTransition is one state machine edge, reported exactly once per
	// episode.
	HealthTransition struct {
		NodeID   NodeID
		From, To HealthState
		LastSeen time.Time
	}

	// NodeHealthMonitor tracks per-node last-seen times against a timeout.
	// Two instances run with independent thresholds: one fed by accepted raw
	// samples (radio link liveness) and one fed by processed frame values
	// (signal staleness, gating totals).
	//
	// The monitor is not safe for concurrent use; it is owned by the
	// engine's consumer goroutine.
	NodeHealthMonitor struct {
		timeout time.Duration
		nodes   map[NodeID]*nodeHealth
	}

	nodeHealth struct {
		state    HealthState
		lastSeen time.Time
	}
)

const (
	Unseen HealthState = iota
	Online
	Stale
)

// String returns the state's display name.
func (s HealthState) String() string {
	switch s {
	case Unseen:
		return "unseen"
	case Online:
		return "online"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// NewNodeHealthMonitor returns a monitor over the given nodes, all starting
// unseen.
func NewNodeHealthMonitor(
	timeout time.Duration,
	nodes []Node,
) *NodeHealthMonitor {
	m := &NodeHealthMonitor{
		timeout: timeout,
		nodes:   make(map[NodeID]*nodeHealth, len(nodes)),
	}
	for _, n := range nodes {
		m.nodes[n.ID] = &nodeHealth{state: Unseen}
	}
	return m
}

// Observe records an accepted sample for the node, moving it online. It
// returns the transition taken, or nil when the node was already online.
// Unknown nodes are ignored; membership is validated upstream.
func (m *NodeHealthMonitor) Observe(id NodeID, now time.Time) *HealthTransition {
	h, ok := m.nodes[id]
	if !ok {
		return nil
	}
	h.lastSeen = now
	if h.state == Online {
		return nil
	}
	tr := &HealthTransition{NodeID: id, From: h.state, To: Online, LastSeen: now}
	h.state = Online
	return tr
}

// Check expires nodes whose last sample is older than the timeout and
// returns the ONLINE -> STALE edges taken, at most one per node per
// disconnection episode.
func (m *NodeHealthMonitor) Check(now time.Time) []HealthTransition {
	var edges []HealthTransition
	for id, h := range m.nodes {
		if h.state != Online || now.Sub(h.lastSeen) <= m.timeout {
			continue
		}
		h.state = Stale
		edges = append(edges, HealthTransition{
			NodeID:   id,
			From:     Online,
			To:       Stale,
			LastSeen: h.lastSeen,
		})
	}
	return edges
}

// State returns the node's current state, Unseen for unknown IDs.
func (m *NodeHealthMonitor) State(id NodeID) HealthState {
	if h, ok := m.nodes[id]; ok {
		return h.state
	}
	return Unseen
}

// Online reports whether the node currently counts toward totals.
func (m *NodeHealthMonitor) Online(id NodeID) bool {
	return m.State(id) == Online
}

// LastSeen returns when the node last reported, false if never.
func (m *NodeHealthMonitor) LastSeen(id NodeID) (time.Time, bool) {
	h, ok := m.nodes[id]
	if !ok || h.state == Unseen {
		return time.Time{}, false
	}
	return h.lastSeen, true
}
