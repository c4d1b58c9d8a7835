// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package scheduler paces the heartbeat loop: a drift-free metronome plus a
// one-shot wakeable delay that can be cut short by an external
// "check now" request, but never sooner than a configured minimum since the
// delay began.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// Delay is a one-shot sleep primitive. It completes naturally after the
// configured delay, or earlier if RequestEarlyWake is called — but never
// before minDelay has elapsed since the Delay was constructed, and is
// idempotent to Dispose.
type Delay struct {
	done chan struct{}
	once sync.Once

	mu             sync.Mutex
	minElapsed     bool
	earlyRequested bool

	delayTimer *time.Timer
	minTimer   *time.Timer
}

// NewDelay constructs and starts a Delay.
func NewDelay(delay, minDelay time.Duration) *Delay {
	d := &Delay{done: make(chan struct{})}
	d.delayTimer = time.AfterFunc(delay, d.complete)
	if minDelay <= 0 {
		d.minElapsed = true
		d.minTimer = time.AfterFunc(0, d.onMinElapsed)
	} else {
		d.minTimer = time.AfterFunc(minDelay, d.onMinElapsed)
	}
	return d
}

func (d *Delay) onMinElapsed() {
	d.mu.Lock()
	d.minElapsed = true
	shouldComplete := d.earlyRequested
	d.mu.Unlock()

	if shouldComplete {
		d.complete()
	}
}

// RequestEarlyWake asks the Delay to complete as soon as minDelay has
// elapsed since construction, even if delay has not yet elapsed. Calling it
// after minDelay has already elapsed completes the Delay immediately.
func (d *Delay) RequestEarlyWake() {
	d.mu.Lock()
	d.earlyRequested = true
	shouldComplete := d.minElapsed
	d.mu.Unlock()

	if shouldComplete {
		d.complete()
	}
}

// Done returns a channel that is closed when the Delay completes, whether
// naturally, via RequestEarlyWake, or via Dispose.
func (d *Delay) Done() <-chan struct{} {
	return d.done
}

// Dispose completes the Delay immediately. It is idempotent.
func (d *Delay) Dispose() {
	d.complete()
}

func (d *Delay) complete() {
	d.once.Do(func() {
		d.delayTimer.Stop()
		d.minTimer.Stop()
		close(d.done)
	})
}

// Metronome paces periodic heartbeats, advancing a fixed ideal tick instant
// by the period each time regardless of how long a prior iteration actually
// took, so that scheduling never drifts forward over time.
type Metronome struct {
	mu                   sync.Mutex
	heartbeatInterval    time.Duration
	minHeartbeatInterval time.Duration
	previousTick         time.Time
}

// NewMetronome constructs a Metronome. The first call to NextDelay measures
// from the moment of construction.
func NewMetronome(heartbeatInterval, minHeartbeatInterval time.Duration) *Metronome {
	return &Metronome{
		heartbeatInterval:    heartbeatInterval,
		minHeartbeatInterval: minHeartbeatInterval,
		previousTick:         time.Now(),
	}
}

// NextDelay computes this iteration's wait duration and a Delay primitive
// already counting it down: nextTick = max(previousTick + heartbeatInterval,
// now + minHeartbeatInterval). previousTick then advances to that ideal
// instant, not to the time NextDelay actually returns, keeping the cadence
// drift-free.
func (m *Metronome) NextDelay() *Delay {
	m.mu.Lock()
	now := time.Now()
	nextTick := m.previousTick.Add(m.heartbeatInterval)
	floor := now.Add(m.minHeartbeatInterval)
	if floor.After(nextTick) {
		nextTick = floor
	}
	m.previousTick = nextTick
	m.mu.Unlock()

	delay := nextTick.Sub(now)
	if delay < 0 {
		delay = 0
	}
	return NewDelay(delay, m.minHeartbeatInterval)
}

// HeartbeatScheduler owns the single active Delay for a heartbeat loop.
// Replacement of that Delay is atomic: RequestHeartbeat and Dispose always
// observe either the old or the new Delay, never neither.
type HeartbeatScheduler struct {
	metronome *Metronome

	mu      sync.Mutex
	current *Delay
	closed  bool
}

// NewHeartbeatScheduler constructs a HeartbeatScheduler.
func NewHeartbeatScheduler(heartbeatInterval, minHeartbeatInterval time.Duration) *HeartbeatScheduler {
	return &HeartbeatScheduler{metronome: NewMetronome(heartbeatInterval, minHeartbeatInterval)}
}

// Wait blocks until the next scheduled tick, an early wake via
// RequestHeartbeat, or ctx is done. It returns ctx.Err() if ctx finishes
// first; the in-flight Delay is left to complete on its own (Dispose will
// reap it).
func (s *HeartbeatScheduler) Wait(ctx context.Context) error {
	d := s.metronome.NextDelay()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		d.Dispose()
		return ctx.Err()
	}
	s.current = d
	s.mu.Unlock()

	select {
	case <-d.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestHeartbeat wakes the current Delay early, subject to its own
// minimum-delay floor.
func (s *HeartbeatScheduler) RequestHeartbeat() {
	s.mu.Lock()
	d := s.current
	s.mu.Unlock()
	if d != nil {
		d.RequestEarlyWake()
	}
}

// Dispose completes the current Delay immediately and marks the scheduler
// closed so that future Wait calls return ctx.Err() without blocking.
func (s *HeartbeatScheduler) Dispose() {
	s.mu.Lock()
	s.closed = true
	d := s.current
	s.mu.Unlock()
	if d != nil {
		d.Dispose()
	}
}
