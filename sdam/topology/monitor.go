// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package topology implements the per-server monitoring loop: ServerMonitor
// owns the heartbeat probe, derives descriptions from it, and publishes
// changes to a DescriptionListener. A RoundTripTimeMonitor runs alongside it
// on a second connection.
package topology

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chorusdb/sdam-core/internal/logger"
	"github.com/chorusdb/sdam-core/sdam/address"
	"github.com/chorusdb/sdam-core/sdam/auth"
	"github.com/chorusdb/sdam-core/sdam/description"
	"github.com/chorusdb/sdam-core/sdam/driver"
	"github.com/chorusdb/sdam-core/sdam/event"
	"github.com/chorusdb/sdam-core/sdam/operation"
	"github.com/chorusdb/sdam-core/sdam/rtt"
	"github.com/chorusdb/sdam-core/sdam/scheduler"
)

// ErrNotInitialized is returned by RequestHeartbeat and CancelCurrentCheck
// when called before Initialize.
var ErrNotInitialized = errors.New("topology: server monitor not initialized")

// ErrDisposed is returned by RequestHeartbeat and CancelCurrentCheck once
// Dispose has been called.
var ErrDisposed = errors.New("topology: server monitor disposed")

type monitorState int32

const (
	stateInitial monitorState = iota
	stateOpen
	stateDisposed
)

// ServerSettings is the immutable configuration surface for a ServerMonitor
// and its RoundTripTimeMonitor, frozen at construction.
type ServerSettings struct {
	HeartbeatInterval    time.Duration
	MinHeartbeatInterval time.Duration
	ConnectTimeout       time.Duration
	HeartbeatTimeout     time.Duration
}

// DefaultServerSettings returns the default configuration: a 10s heartbeat
// interval, a 500ms floor on forced early wakeups, and a 30s connect/10s
// heartbeat timeout.
func DefaultServerSettings() ServerSettings {
	return ServerSettings{
		HeartbeatInterval:    10 * time.Second,
		MinHeartbeatInterval: 500 * time.Millisecond,
		ConnectTimeout:       30 * time.Second,
		HeartbeatTimeout:     10 * time.Second,
	}
}

// ServerMonitor owns a single server's heartbeat loop. It is constructed via
// ServerMonitorFactory and must be Initialized before any other method is
// meaningful.
type ServerMonitor struct {
	serverID description.ServerID
	endpoint address.Address
	connect  driver.ConnectionFactory
	settings ServerSettings
	listener event.ServerMonitorListener
	log      *logger.Logger
	auth     driver.Authenticator

	rtt *rtt.Monitor

	stateMu sync.Mutex
	state   monitorState

	desc atomic.Value // holds description.Server

	connMu sync.Mutex
	conn   driver.Connection
	// connStreaming is true when conn was left by a prior attempt in exhaust
	// mode: the next attempt on it reads via StreamResponse instead of
	// reissuing the streaming command.
	connStreaming bool

	cancelMu      sync.Mutex
	attemptToken  context.Context
	cancelAttempt context.CancelFunc

	scheduler  *scheduler.HeartbeatScheduler
	rootCtx    context.Context
	rootCancel context.CancelFunc
	group      *errgroup.Group
}

// newServerMonitor constructs a ServerMonitor. Call Initialize before use. A
// nil authenticator defaults to auth.NoopAuthenticator, in which case
// heartbeat connections never authenticate.
func newServerMonitor(
	id description.ServerID,
	connect driver.ConnectionFactory,
	settings ServerSettings,
	listener event.ServerMonitorListener,
	log *logger.Logger,
	authenticator driver.Authenticator,
) *ServerMonitor {
	if listener == nil {
		listener = event.NopServerMonitorListener{}
	}
	if authenticator == nil {
		authenticator = auth.NoopAuthenticator{}
	}
	m := &ServerMonitor{
		serverID: id,
		endpoint: id.Endpoint,
		connect:  connect,
		settings: settings,
		listener: listener,
		log:      log,
		auth:     authenticator,
		rtt:      rtt.New(id.Endpoint, connect, settings.HeartbeatInterval, settings.ConnectTimeout, authenticator),
	}
	m.desc.Store(description.NewDefaultServer(id))
	return m
}

// Description returns the latest published snapshot. It never blocks.
func (m *ServerMonitor) Description() description.Server {
	return m.desc.Load().(description.Server)
}

// Initialize transitions Initial→Open and starts the heartbeat and RTT
// loops. Calling it twice is a no-op; in particular the second call does
// not start a second RTT loop.
func (m *ServerMonitor) Initialize() {
	m.stateMu.Lock()
	if m.state != stateInitial {
		m.stateMu.Unlock()
		return
	}
	m.state = stateOpen
	m.stateMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	m.rootCtx = ctx
	m.rootCancel = cancel
	m.resetAttemptToken(ctx)

	m.scheduler = scheduler.NewHeartbeatScheduler(m.settings.HeartbeatInterval, m.settings.MinHeartbeatInterval)

	g, _ := errgroup.WithContext(ctx)
	m.group = g

	g.Go(func() error {
		m.runHeartbeatLoop(ctx)
		return nil
	})
	g.Go(func() error {
		m.rtt.Run(ctx)
		return nil
	})
}

// resetAttemptToken installs a fresh per-attempt cancellation token derived
// from root. Doing this under cancelMu guarantees a subsequent attempt is
// never launched against a token that is already cancelled.
func (m *ServerMonitor) resetAttemptToken(root context.Context) {
	m.cancelMu.Lock()
	defer m.cancelMu.Unlock()
	attemptCtx, cancel := context.WithCancel(root)
	m.attemptToken = attemptCtx
	m.cancelAttempt = cancel
}

func (m *ServerMonitor) currentAttemptToken() context.Context {
	m.cancelMu.Lock()
	defer m.cancelMu.Unlock()
	return m.attemptToken
}

// RequestHeartbeat wakes the scheduler so the next probe runs after at most
// MinHeartbeatInterval rather than waiting the full HeartbeatInterval.
func (m *ServerMonitor) RequestHeartbeat() error {
	if err := m.requireOpen(); err != nil {
		return err
	}
	m.scheduler.RequestHeartbeat()
	return nil
}

// CancelCurrentCheck aborts any in-flight probe: it trips the per-attempt
// cancellation token, closes the current connection (which also aborts its
// pending read), and installs a fresh per-attempt token so the next attempt
// is not born already cancelled. Safe to call concurrently with the
// heartbeat loop and with itself.
func (m *ServerMonitor) CancelCurrentCheck() error {
	if err := m.requireOpen(); err != nil {
		return err
	}

	m.cancelMu.Lock()
	oldCancel := m.cancelAttempt
	m.cancelMu.Unlock()

	if oldCancel != nil {
		oldCancel()
	}

	m.connMu.Lock()
	conn := m.conn
	m.conn = nil
	m.connStreaming = false
	m.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}

	// The replacement token is derived from the root lifetime context
	// captured at Initialize, never from the just-cancelled attempt token:
	// a child of a cancelled parent is born already cancelled.
	m.resetAttemptToken(m.rootCtx)
	return nil
}

func (m *ServerMonitor) requireOpen() error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	switch m.state {
	case stateInitial:
		return ErrNotInitialized
	case stateDisposed:
		return ErrDisposed
	default:
		return nil
	}
}

// On registers listener, replacing whatever listener was previously
// installed.
func (m *ServerMonitor) On(listener event.ServerMonitorListener) {
	if listener == nil {
		listener = event.NopServerMonitorListener{}
	}
	m.listener = listener
}

// Dispose transitions to Disposed. It is idempotent: it trips the root
// cancellation token, disposes both connections (ignoring errors), and
// prevents further events.
func (m *ServerMonitor) Dispose() {
	m.stateMu.Lock()
	if m.state == stateDisposed {
		m.stateMu.Unlock()
		return
	}
	wasOpen := m.state == stateOpen
	m.state = stateDisposed
	m.stateMu.Unlock()

	if !wasOpen {
		return
	}

	m.rootCancel()
	m.scheduler.Dispose()

	m.connMu.Lock()
	conn := m.conn
	m.conn = nil
	m.connStreaming = false
	m.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}

	m.rtt.Dispose()
	_ = m.group.Wait()
}

// runHeartbeatLoop is the outer metronome-paced loop. The first probe runs
// immediately, before the loop ever waits on the metronome, so a cold-start
// monitor publishes its first description promptly rather than after a full
// HeartbeatInterval.
func (m *ServerMonitor) runHeartbeatLoop(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	m.runAttemptLoop(ctx)

	for {
		if err := m.scheduler.Wait(ctx); err != nil || ctx.Err() != nil {
			return
		}
		m.runAttemptLoop(ctx)
	}
}

// runAttemptLoop iterates more than once when the server supports
// streaming, when a streaming command is left in exhaust mode, or while
// recovering from a transient network error.
func (m *ServerMonitor) runAttemptLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		attemptCtx := m.currentAttemptToken()
		if !m.runOneAttempt(attemptCtx) {
			return
		}
	}
}

// runOneAttempt runs a single probe. It returns true iff the inner loop
// should continue immediately without waiting for the metronome.
func (m *ServerMonitor) runOneAttempt(ctx context.Context) bool {
	base := m.Description()

	m.connMu.Lock()
	conn := m.conn
	alreadyStreaming := m.connStreaming
	m.connMu.Unlock()

	if conn == nil {
		return m.attemptFreshConnection(ctx, base)
	}
	return m.attemptOnExistingConnection(ctx, base, conn, alreadyStreaming)
}

// attemptFreshConnection opens a new connection, treats its handshake as the
// probe reply, and times the open as the round-trip sample. No
// HeartbeatStarted event is published for this case: the handshake is not a
// heartbeat command.
func (m *ServerMonitor) attemptFreshConnection(ctx context.Context, base description.Server) bool {
	connectCtx := ctx
	var cancel context.CancelFunc
	if m.settings.ConnectTimeout > 0 {
		connectCtx, cancel = context.WithTimeout(ctx, m.settings.ConnectTimeout)
		defer cancel()
	}

	start := time.Now()
	newConn, err := m.connect(connectCtx, m.endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		return m.handleFailure(base, nil, "", &driver.NetworkError{Err: err}, time.Since(start), false)
	}

	info, err := newConn.Handshake(connectCtx, operation.Hello{}.Command())
	elapsed := time.Since(start)
	if err != nil {
		_ = newConn.Close()
		if ctx.Err() != nil {
			return false
		}
		return m.handleFailure(base, nil, "", &driver.NetworkError{Err: err}, elapsed, false)
	}

	if err := m.auth.Authenticate(connectCtx, newConn, info); err != nil {
		_ = newConn.Close()
		if ctx.Err() != nil {
			return false
		}
		return m.handleFailure(base, nil, "", err, elapsed, false)
	}

	if ctx.Err() != nil {
		_ = newConn.Close()
		return false
	}

	m.rtt.AddSample(elapsed)

	m.connMu.Lock()
	m.conn = newConn
	m.connStreaming = false
	m.connMu.Unlock()

	next := m.stampSuccess(info.Description)
	m.publishDescription(base, next)

	return next.SupportsStreaming()
}

// attemptOnExistingConnection issues a streaming, exhaust-continuation, or
// polling probe on an already-open connection, depending on streamInProgress
// (whether conn was left by a prior attempt in exhaust mode).
func (m *ServerMonitor) attemptOnExistingConnection(ctx context.Context, base description.Server, conn driver.Connection, streamInProgress bool) bool {
	connID := conn.ID()
	streamingEligible := base.SupportsStreaming()

	m.publishHeartbeatStarted(connID, streamingEligible)

	var (
		raw []byte
		err error
	)
	start := time.Now()
	switch {
	case streamingEligible && streamInProgress:
		// conn is already in exhaust mode from a prior RunStreamingCommand:
		// read the server's next pushed frame instead of writing the
		// command again.
		raw, err = conn.StreamResponse(ctx)
	case streamingEligible:
		cmd := operation.Hello{
			TopologyVersion: base.TopologyVersion,
			MaxAwaitTimeMS:  m.settings.HeartbeatInterval.Milliseconds(),
		}.Command()
		// The read deadline is extended by heartbeatInterval, not
		// heartbeatTimeout: the server is expected to hold this frame open
		// for up to maxAwaitTimeMS before replying.
		raw, err = conn.RunStreamingCommand(ctx, cmd, m.settings.HeartbeatInterval)
	default:
		pollCtx := ctx
		if m.settings.HeartbeatTimeout > 0 {
			var cancel context.CancelFunc
			pollCtx, cancel = context.WithTimeout(ctx, m.settings.HeartbeatTimeout)
			defer cancel()
		}
		raw, err = conn.RunCommand(pollCtx, operation.Hello{}.Command())
	}
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return false
	}

	if err != nil {
		return m.handleFailure(base, conn, connID, err, elapsed, streamingEligible)
	}

	m.publishHeartbeatSucceeded(connID, elapsed, streamingEligible)
	if !streamingEligible {
		// A streaming probe's elapsed time includes the server's own
		// maxAwaitTimeMS wait and would skew the average; only a polling
		// round trip is a genuine network-latency sample.
		m.rtt.AddSample(elapsed)
	}

	next := m.stampSuccess(m.deriveFromRaw(base, raw))
	m.publishDescription(base, next)

	// A server that just announced streaming support gets another attempt
	// immediately so the exhaust read for its next pushed frame starts
	// without waiting on the metronome.
	nowStreaming := next.SupportsStreaming()
	m.connMu.Lock()
	m.connStreaming = nowStreaming
	m.connMu.Unlock()

	return nowStreaming
}

// deriveFromRaw builds a description from a raw hello reply, recovering
// from any panic in description.NewServer by reporting it as a diagnostic
// breadcrumb against the base description rather than letting it escape the
// loop. The fallback is built from base, not from any partial result of the
// failed derivation, so a bug in derivation itself cannot re-enter the
// faulty path.
func (m *ServerMonitor) deriveFromRaw(base description.Server, raw []byte) (next description.Server) {
	defer func() {
		if r := recover(); r != nil {
			m.safeListener(func() {
				m.listener.SDAMInformation(event.NewSDAMInformationEvent(
					"deriving server description", fmt.Errorf("panic: %v", r), base))
			})
			next = description.NewServerFromError(base, fmt.Errorf("panic: %v", r), nil)
		}
	}()
	return description.NewServer(base, raw)
}

// stampSuccess fills in the fields the monitor itself owns: the RTT
// average and the heartbeat/update timestamps.
func (m *ServerMonitor) stampSuccess(next description.Server) description.Server {
	next.AverageRoundTripTime = m.rtt.Average().Round(time.Millisecond)
	now := time.Now()
	next.LastHeartbeatTime = now
	next.LastUpdateTime = now
	return next
}

// handleFailure records a failed probe as an error description and reports
// whether the inner loop should retry immediately: a network error on a
// server previously believed reachable gets one immediate retry before
// falling back to the metronome.
func (m *ServerMonitor) handleFailure(
	base description.Server,
	conn driver.Connection,
	connID string,
	err error,
	elapsed time.Duration,
	awaited bool,
) bool {
	if conn != nil {
		_ = conn.Close()
	}
	m.connMu.Lock()
	m.conn = nil
	m.connStreaming = false
	m.connMu.Unlock()

	m.publishHeartbeatFailed(connID, elapsed, err, awaited)
	m.log.Print(logger.LevelInfo, logger.ComponentServerMonitor, "heartbeat failed",
		"address", string(m.endpoint), "error", err.Error())

	var cmdErr *driver.CommandError
	var tv *description.TopologyVersion
	isNetworkError := true
	if errors.As(err, &cmdErr) {
		isNetworkError = false
		tv = cmdErr.TopologyVersion
	} else {
		m.rtt.Reset()
	}

	next := description.NewServerFromError(base, err, tv)
	next.LastHeartbeatTime = time.Now()
	next.LastUpdateTime = next.LastHeartbeatTime
	m.publishDescription(base, next)

	return isNetworkError && base.Kind != description.Unknown
}

// publishDescription stores next as the current snapshot and, outside any
// lock that a re-entrant listener call (e.g. Description()) might contend
// on, notifies the installed listener of the transition.
func (m *ServerMonitor) publishDescription(old, next description.Server) {
	m.desc.Store(next)

	m.log.Print(logger.LevelDebug, logger.ComponentTopology, "server description changed",
		"address", string(m.endpoint), "previousType", old.Kind.String(), "newType", next.Kind.String())

	if dl, ok := m.listener.(event.DescriptionListener); ok {
		m.safeListener(func() {
			dl.OnDescriptionChanged(event.ServerDescriptionChangedEvent{
				Address: m.endpoint,
				Old:     old,
				New:     next,
			})
		})
	}
}

func (m *ServerMonitor) publishHeartbeatStarted(connID string, awaited bool) {
	m.safeListener(func() {
		m.listener.HeartbeatStarted(event.ServerHeartbeatStartedEvent{ConnectionID: connID, Awaited: awaited})
	})
}

func (m *ServerMonitor) publishHeartbeatSucceeded(connID string, d time.Duration, awaited bool) {
	m.safeListener(func() {
		m.listener.HeartbeatSucceeded(event.ServerHeartbeatSucceededEvent{ConnectionID: connID, Duration: d, Awaited: awaited})
	})
}

func (m *ServerMonitor) publishHeartbeatFailed(connID string, d time.Duration, err error, awaited bool) {
	m.safeListener(func() {
		m.listener.HeartbeatFailed(event.ServerHeartbeatFailedEvent{ConnectionID: connID, Duration: d, Err: err, Awaited: awaited})
	})
}

// safeListener recovers any panic escaping a listener callback so a bad
// listener can never crash the heartbeat loop.
func (m *ServerMonitor) safeListener(f func()) {
	defer func() { _ = recover() }()
	f()
}
