// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"github.com/chorusdb/sdam-core/internal/logger"
	"github.com/chorusdb/sdam-core/sdam/address"
	"github.com/chorusdb/sdam-core/sdam/auth"
	"github.com/chorusdb/sdam-core/sdam/description"
	"github.com/chorusdb/sdam-core/sdam/driver"
	"github.com/chorusdb/sdam-core/sdam/event"
)

// ServerMonitorFactory binds a ConnectionFactory, ServerSettings, and event
// sink so a topology aggregator can construct a ServerMonitor per discovered
// endpoint without re-threading that wiring through every call site.
type ServerMonitorFactory struct {
	clusterID string
	connect   driver.ConnectionFactory
	settings  ServerSettings
	listener  event.ServerMonitorListener
	log       *logger.Logger
	auth      driver.Authenticator
}

// NewServerMonitorFactory constructs a ServerMonitorFactory. listener may be
// nil, in which case every produced ServerMonitor discards its events.
// authenticator may be nil, in which case every produced ServerMonitor
// installs auth.NoopAuthenticator on its monitoring connections.
func NewServerMonitorFactory(
	clusterID string,
	connect driver.ConnectionFactory,
	settings ServerSettings,
	listener event.ServerMonitorListener,
	log *logger.Logger,
	authenticator driver.Authenticator,
) *ServerMonitorFactory {
	if authenticator == nil {
		authenticator = auth.NoopAuthenticator{}
	}
	return &ServerMonitorFactory{
		clusterID: clusterID,
		connect:   connect,
		settings:  settings,
		listener:  listener,
		log:       log,
		auth:      authenticator,
	}
}

// NewServerMonitor constructs a ServerMonitor bound to endpoint. The
// returned monitor is in the Initial state; the caller must call Initialize
// before it does anything.
func (f *ServerMonitorFactory) NewServerMonitor(endpoint address.Address) *ServerMonitor {
	id := description.ServerID{ClusterID: f.clusterID, Endpoint: endpoint}
	return newServerMonitor(id, f.connect, f.settings, f.listener, f.log, f.auth)
}
