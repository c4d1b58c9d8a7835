// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package driver declares the external collaborators this monitoring core
// depends on but does not implement: wire-level connections and the
// authenticators that run once over a freshly opened one. Concrete wire
// framing, compression, and BSON encode/decode all live behind Connection.
package driver

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/chorusdb/sdam-core/sdam/address"
	"github.com/chorusdb/sdam-core/sdam/description"
)

// HandshakeInfo is what a freshly opened connection yields once its initial
// hello/isMaster handshake completes.
type HandshakeInfo struct {
	Description             description.Server
	SpeculativeAuthenticate bson.Raw
	ServerConnectionID      *int32
	SaslSupportedMechs      []string
}

// Connection is a single wire-level connection to a server. A ServerMonitor
// owns at most one Connection at a time for its heartbeat loop, and a
// RoundTripTimeMonitor owns a second, independent one.
type Connection interface {
	// Handshake performs the connection's initial hello/isMaster handshake
	// using cmd as the command document, and returns the parsed result.
	Handshake(ctx context.Context, cmd bson.D) (HandshakeInfo, error)

	// RunCommand executes cmd as a normal, non-streaming command and returns
	// the raw server reply.
	RunCommand(ctx context.Context, cmd bson.D) (bson.Raw, error)

	// RunStreamingCommand executes cmd as a streaming ("exhaust-allowed")
	// command: the connection is left able to read a further
	// server-initiated reply via StreamResponse without writing the command
	// again. readTimeout extends the connection's read deadline for the
	// duration of the server's maxAwaitTimeMS wait.
	RunStreamingCommand(ctx context.Context, cmd bson.D, readTimeout time.Duration) (bson.Raw, error)

	// StreamResponse reads the next server-pushed reply on a connection left
	// in streaming mode by RunStreamingCommand.
	StreamResponse(ctx context.Context) (bson.Raw, error)

	// ID is a human-readable identifier for this connection, used only in
	// events and logs.
	ID() string

	// Close releases the connection's resources. It is safe to call more
	// than once; only the first call has effect.
	Close() error
}

// ConnectionFactory opens a new Connection to endpoint. Implementations are
// expected to honor ctx's deadline for the dial itself.
type ConnectionFactory func(ctx context.Context, endpoint address.Address) (Connection, error)

// Authenticator runs once, immediately after a connection's handshake
// succeeds, before the connection is handed back to its caller. Monitoring
// connections default to a no-op authenticator (see auth.NoopAuthenticator)
// when none is supplied.
type Authenticator interface {
	Authenticate(ctx context.Context, conn Connection, info HandshakeInfo) error
}

// NetworkError classifies an error as connection/transport level (dial,
// write, or read failure) as opposed to a CommandError (a well-formed { ok:
// 0 } server reply). The distinction drives the "transient-network"
// immediate-retry rule and the decision to reset the RTT monitor's EWMA.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// CommandError is a well-formed { ok: 0, ... } server reply, optionally
// carrying the topologyVersion the server reported alongside the error.
type CommandError struct {
	Err             error
	TopologyVersion *description.TopologyVersion
}

func (e *CommandError) Error() string { return e.Err.Error() }
func (e *CommandError) Unwrap() error { return e.Err }
