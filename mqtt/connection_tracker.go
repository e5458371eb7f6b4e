// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"errors"
	"sync"
)

// errConnectionDropped is the cancel cause installed on in-flight operations
// when their connection goes down, letting callers distinguish a dropped
// connection from a real failure and retry on the next one.
var errConnectionDropped = errors.New("connection dropped")

// connectionTracker maintains the client's view of the live connection. The
// invariant is that down is closed exactly when no connection is live and up
// is closed exactly while one is; both channels are replaced, never reused.
type connectionTracker struct {
	mu      sync.RWMutex
	client  PahoClient
	up      chan struct{}
	down    chan struct{}
	err     error
	attempt uint64
	count   uint64
}

func (t *connectionTracker) init() {
	t.up = make(chan struct{})
	t.down = make(chan struct{})
	close(t.down)
}

// nextAttempt tags a new connection attempt and clears the sticky error, so
// late callbacks from a previous connection cannot poison this one.
func (t *connectionTracker) nextAttempt() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempt++
	t.err = nil
	return t.attempt
}

// connected installs the client for the current attempt. It fails if a
// disconnect raced the handshake, in which case the attempt must be retried.
func (t *connectionTracker) connected(
	client PahoClient,
) (uint64, <-chan struct{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return 0, nil, t.err
	}

	t.client = client
	t.count++
	t.down = make(chan struct{})
	close(t.up)
	return t.count, t.down, nil
}

// disconnected records a connection loss reported for the tagged attempt.
// Reports for older attempts are ignored. When the loss precedes connected,
// only the error is recorded; connected will observe it and fail.
func (t *connectionTracker) disconnected(attempt uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.attempt != attempt {
		return
	}
	if t.err == nil {
		t.err = err
	}
	if t.client == nil {
		return
	}

	t.client = nil
	t.up = make(chan struct{})
	close(t.down)
}

// clear unconditionally drops the live connection, returning the client that
// was installed so the caller can send a DISCONNECT on it.
func (t *connectionTracker) clear() PahoClient {
	t.mu.Lock()
	defer t.mu.Unlock()

	client := t.client
	if client == nil {
		return nil
	}

	t.client = nil
	t.up = make(chan struct{})
	close(t.down)
	return client
}

// current returns the live client, its connection count, and its down
// channel; the client is nil when disconnected.
func (t *connectionTracker) current() (PahoClient, uint64, <-chan struct{}) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.client, t.count, t.down
}

// snapshot additionally returns the up channel for waiting on the next
// connection.
func (t *connectionTracker) snapshot() (
	client PahoClient,
	count uint64,
	up, down <-chan struct{},
) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.client, t.count, t.up, t.down
}

// lastError returns the error recorded for the current attempt.
func (t *connectionTracker) lastError() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.err
}

// currentAttempt returns the tag of the most recent connection attempt,
// used to detect acks aimed at a connection that no longer exists.
func (t *connectionTracker) currentAttempt() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.attempt
}

// connContext derives a context that is canceled with errConnectionDropped
// when the given connection goes down, bounding in-flight operations to the
// connection that carries them.
func connContext(
	ctx context.Context,
	down <-chan struct{},
) (context.Context, context.CancelFunc) {
	cctx, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-down:
			cancel(errConnectionDropped)
		case <-cctx.Done():
		}
	}()
	return cctx, func() { cancel(context.Canceled) }
}
