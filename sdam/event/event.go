// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package event defines the SDAM event types a ServerMonitor publishes and
// the sink interfaces external collaborators implement to observe them:
// plain structs with a matching set of optional callbacks, none of which
// may block the monitor for long.
package event

import (
	"fmt"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/chorusdb/sdam-core/sdam/address"
	"github.com/chorusdb/sdam-core/sdam/description"
)

// ServerHeartbeatStartedEvent is published immediately before a heartbeat
// probe is issued. It is not published for the very first handshake attempt
// on a freshly opened connection, since that handshake IS the probe.
type ServerHeartbeatStartedEvent struct {
	ConnectionID string
	Awaited      bool
}

// ServerHeartbeatSucceededEvent is published after a heartbeat probe
// receives a successful reply.
type ServerHeartbeatSucceededEvent struct {
	ConnectionID string
	Duration     time.Duration
	Awaited      bool
}

// ServerHeartbeatFailedEvent is published after a heartbeat probe fails.
type ServerHeartbeatFailedEvent struct {
	ConnectionID string
	Duration     time.Duration
	Err          error
	Awaited      bool
}

// ServerDescriptionChangedEvent carries a single, strictly-ordered
// description transition: for any two consecutive events published by the
// same monitor, New of the first equals Old of the second.
type ServerDescriptionChangedEvent struct {
	Address address.Address
	Old     description.Server
	New     description.Server
}

// SDAMInformationEvent is a diagnostic breadcrumb for unexpected (bug-like)
// errors encountered while deriving a description. It must never be used for
// routine, expected failures (those are ServerHeartbeatFailedEvent).
type SDAMInformationEvent struct {
	Message string
}

// ServerMonitorListener receives the events a ServerMonitor publishes.
// Implementations must not block for long and must not panic; any panic
// escaping a listener method is recovered and discarded by the monitor.
type ServerMonitorListener interface {
	HeartbeatStarted(ServerHeartbeatStartedEvent)
	HeartbeatSucceeded(ServerHeartbeatSucceededEvent)
	HeartbeatFailed(ServerHeartbeatFailedEvent)
	SDAMInformation(SDAMInformationEvent)
}

// DescriptionListener is the topology-aggregator's event sink: the single
// collaborator this core was designed to report description transitions to.
type DescriptionListener interface {
	OnDescriptionChanged(ServerDescriptionChangedEvent)
}

// NewSDAMInformationEvent builds the diagnostic message for an unexpected
// error encountered while deriving a description. It dumps the offending
// base description and error with go-spew rather than fmt's default
// formatting, because spew's field-by-field rendering survives nil pointers
// and unexported fields inside description.Server without panicking, which
// matters for a code path whose entire job is to report a bug gracefully.
func NewSDAMInformationEvent(context string, err error, base description.Server) SDAMInformationEvent {
	return SDAMInformationEvent{
		Message: fmt.Sprintf("%s: %s\n%s", context, err, spew.Sdump(base)),
	}
}

// NopServerMonitorListener is a ServerMonitorListener that discards every
// event. It is useful as a default and in tests that only care about
// description changes.
type NopServerMonitorListener struct{}

// HeartbeatStarted implements ServerMonitorListener.
func (NopServerMonitorListener) HeartbeatStarted(ServerHeartbeatStartedEvent) {}

// HeartbeatSucceeded implements ServerMonitorListener.
func (NopServerMonitorListener) HeartbeatSucceeded(ServerHeartbeatSucceededEvent) {}

// HeartbeatFailed implements ServerMonitorListener.
func (NopServerMonitorListener) HeartbeatFailed(ServerHeartbeatFailedEvent) {}

// SDAMInformation implements ServerMonitorListener.
func (NopServerMonitorListener) SDAMInformation(SDAMInformationEvent) {}
