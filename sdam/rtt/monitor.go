// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package rtt maintains a server's round-trip time as an exponentially
// weighted moving average, sampled on a connection dedicated to that
// purpose so that a streaming heartbeat's server-side maxAwaitTimeMS wait
// never contaminates the measurement.
package rtt

import (
	"context"
	"sync"
	"time"

	"github.com/chorusdb/sdam-core/sdam/address"
	"github.com/chorusdb/sdam-core/sdam/auth"
	"github.com/chorusdb/sdam-core/sdam/driver"
	"github.com/chorusdb/sdam-core/sdam/operation"
)

// alpha is the EWMA smoothing constant. It is fixed, not configurable.
const alpha = 0.2

// Monitor samples round-trip time on its own connection, independent of the
// heartbeat loop.
type Monitor struct {
	endpoint  address.Address
	connect   driver.ConnectionFactory
	interval  time.Duration
	connectTO time.Duration
	auth      driver.Authenticator

	mu       sync.Mutex
	conn     driver.Connection
	avg      time.Duration
	avgSet   bool
	disposed bool

	stop chan struct{}
	done chan struct{}
}

// New constructs a Monitor bound to endpoint. It does not start running
// until Run is called. A nil authenticator defaults to NoopAuthenticator:
// this dedicated connection is a monitoring connection like any other.
func New(endpoint address.Address, connect driver.ConnectionFactory, interval, connectTimeout time.Duration, authenticator driver.Authenticator) *Monitor {
	if authenticator == nil {
		authenticator = auth.NoopAuthenticator{}
	}
	return &Monitor{
		endpoint:  endpoint,
		connect:   connect,
		interval:  interval,
		connectTO: connectTimeout,
		auth:      authenticator,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Average returns the current EWMA round-trip time. It is safe to call
// concurrently with Run.
func (m *Monitor) Average() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.avg
}

// Reset clears the EWMA so the next sample re-seeds it, used when the
// heartbeat loop observes a network error and cannot trust the current
// average.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.avgSet = false
	m.avg = 0
}

// AddSample folds an externally observed round-trip duration into the same
// EWMA this Monitor's own dedicated sampling loop feeds. The heartbeat
// loop's own open-handshake and polling probes call this so that C3's
// average reflects every round trip this server's monitor observes, not
// only the dedicated connection's.
func (m *Monitor) AddSample(d time.Duration) {
	m.addSample(d)
}

func (m *Monitor) addSample(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.avgSet {
		m.avg = d
		m.avgSet = true
		return
	}
	m.avg = time.Duration(alpha*float64(d) + (1-alpha)*float64(m.avg))
}

// Run executes the sampling loop until ctx is done or Dispose is called.
// The first iteration opens the dedicated connection and times that open as
// the first sample; every interval thereafter it issues a one-shot polling
// probe and times it.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sample(ctx)

	for {
		select {
		case <-ticker.C:
			m.sample(ctx)
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	connectCtx := ctx
	var cancel context.CancelFunc
	if m.connectTO > 0 {
		connectCtx, cancel = context.WithTimeout(ctx, m.connectTO)
		defer cancel()
	}

	if conn == nil {
		start := time.Now()
		newConn, err := m.connect(connectCtx, m.endpoint)
		if err != nil {
			return
		}
		info, err := newConn.Handshake(connectCtx, operation.Hello{}.Command())
		if err != nil {
			_ = newConn.Close()
			return
		}
		if err := m.auth.Authenticate(connectCtx, newConn, info); err != nil {
			_ = newConn.Close()
			return
		}
		elapsed := time.Since(start)

		m.mu.Lock()
		if m.disposed {
			m.mu.Unlock()
			_ = newConn.Close()
			return
		}
		m.conn = newConn
		m.mu.Unlock()

		m.addSample(elapsed)
		return
	}

	start := time.Now()
	_, err := conn.RunCommand(ctx, operation.Hello{}.Command())
	if err != nil {
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.addSample(time.Since(start))
}

// Dispose stops the sampling loop and closes the dedicated connection. It is
// idempotent.
func (m *Monitor) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	close(m.stop)
	<-m.done

	if conn != nil {
		_ = conn.Close()
	}
}
