// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package scale_test

import (
	"context"
	"sync"
	"time"

	"github.com/loadgrid/weighcore/internal/wallclock"
)

// fakeClock drives the engine deterministically: tests advance apparent
// time with Advance and fire the engine's tick with Tick.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	tick chan time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start, tick: make(chan time.Time, 64)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Tick fires one engine tick at the current apparent time.
func (c *fakeClock) Tick() {
	c.tick <- c.Now()
}

func (c *fakeClock) WithTimeoutCause(
	parent context.Context,
	_ time.Duration,
	_ error,
) (context.Context, context.CancelFunc) {
	return context.WithCancel(parent)
}

func (c *fakeClock) After(time.Duration) <-chan time.Time {
	return make(chan time.Time)
}

func (c *fakeClock) NewTimer(time.Duration) wallclock.Timer {
	return fakeTimer{}
}

func (c *fakeClock) NewTicker(time.Duration) wallclock.Ticker {
	return fakeTicker{ch: c.tick}
}

type fakeTimer struct{}

func (fakeTimer) C() <-chan time.Time      { return make(chan time.Time) }
func (fakeTimer) Reset(time.Duration) bool { return false }
func (fakeTimer) Stop() bool               { return false }

type fakeTicker struct{ ch chan time.Time }

func (t fakeTicker) C() <-chan time.Time { return t.ch }
func (fakeTicker) Reset(time.Duration)   {}
func (fakeTicker) Stop()                 {}
