// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package operation builds the probe command this core sends over a
// Connection. It is deliberately small: no result-set parsing, no batching,
// no retry policy — just the one handshake/heartbeat command this
// monitoring core issues.
package operation

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/chorusdb/sdam-core/sdam/description"
)

// legacyHello is the field name used before servers advertised "helloOk";
// this core always uses it, since a bare heartbeat connection never
// negotiates helloOk.
const legacyHello = "isMaster"

// Hello builds the probe command sent during both the initial handshake and
// every subsequent heartbeat.
type Hello struct {
	// TopologyVersion, if set, requests a streaming ("exhaust") reply: the
	// server will hold the connection open past its first reply and push
	// further replies as its own state changes, up to MaxAwaitTimeMS.
	TopologyVersion *description.TopologyVersion
	MaxAwaitTimeMS  int64
}

// Command builds the wire-level command document. A plain (non-streaming)
// polling probe has neither field set.
func (h Hello) Command() bson.D {
	cmd := bson.D{{Key: legacyHello, Value: int32(1)}}

	if h.TopologyVersion != nil {
		cmd = append(cmd, bson.E{Key: "topologyVersion", Value: bson.D{
			{Key: "processId", Value: h.TopologyVersion.ProcessID},
			{Key: "counter", Value: h.TopologyVersion.Counter},
		}})
		cmd = append(cmd, bson.E{Key: "maxAwaitTimeMS", Value: h.MaxAwaitTimeMS})
	}

	return cmd
}

// IsStreaming reports whether this Hello requests a streaming reply.
func (h Hello) IsStreaming() bool {
	return h.TopologyVersion != nil
}

// WithAuthenticatorDoc returns a copy of cmd with a speculativeAuthenticate
// field appended, for use during the initial handshake when an
// Authenticator wants to fold its first SASL step into the same round trip.
func WithAuthenticatorDoc(cmd bson.D, speculativeAuth bson.Raw) bson.D {
	if len(speculativeAuth) == 0 {
		return cmd
	}
	return append(cmd, bson.E{Key: "speculativeAuthenticate", Value: speculativeAuth})
}
