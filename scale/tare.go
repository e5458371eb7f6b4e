// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package scale

import (
	"maps"
	"sync"
)

// TaraManager holds the per-node zero-reference offsets subtracted from
// smoothed values to produce net weight. Offsets default to 0.0 for nodes
// never captured.
//
// Capture, Clear, and Restore may run from a control goroutine concurrently
// with the consumer's Net reads. Mutations build a fresh table and swap it
// in whole, so a reader always sees either the pre- or post-mutation table,
// never a partially updated one.
type TaraManager struct {
	mu    sync.RWMutex
	table map[NodeID]float64
}

// NewTaraManager returns an empty tare table.
func NewTaraManager() *TaraManager {
	return &TaraManager{table: map[NodeID]float64{}}
}

// Capture sets the tare of each selected node to its current smoothed
// value. An empty selector captures every node present in the map. Nodes
// absent from the map, typically stale ones, retain their prior tare;
// capturing never zeroes out a node that failed to report in that instant.
// It returns the offsets actually captured.
func (t *TaraManager) Capture(
	smoothed map[NodeID]float64,
	nodes ...NodeID,
) map[NodeID]float64 {
	captured := map[NodeID]float64{}
	if len(nodes) == 0 {
		maps.Copy(captured, smoothed)
	} else {
		for _, id := range nodes {
			if v, ok := smoothed[id]; ok {
				captured[id] = v
			}
		}
	}
	if len(captured) == 0 {
		return captured
	}

	t.mu.Lock()
	next := maps.Clone(t.table)
	maps.Copy(next, captured)
	t.table = next
	t.mu.Unlock()
	return captured
}

// Clear resets the selected nodes' offsets to 0.0, or every offset when no
// selector is given.
func (t *TaraManager) Clear(nodes ...NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(nodes) == 0 {
		t.table = map[NodeID]float64{}
		return
	}
	next := maps.Clone(t.table)
	for _, id := range nodes {
		delete(next, id)
	}
	t.table = next
}

// Restore installs a previously saved table, replacing the current one.
func (t *TaraManager) Restore(table map[NodeID]float64) {
	next := maps.Clone(table)
	if next == nil {
		next = map[NodeID]float64{}
	}

	t.mu.Lock()
	t.table = next
	t.mu.Unlock()
}

// Net returns the smoothed value minus the node's tare offset.
func (t *TaraManager) Net(id NodeID, smoothed float64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return smoothed - t.table[id]
}

// Tare returns the node's current offset, 0.0 if never captured.
func (t *TaraManager) Tare(id NodeID) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.table[id]
}

// Snapshot returns a copy of the table for persistence or diagnostics.
func (t *TaraManager) Snapshot() map[NodeID]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.table)
}
