// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package description holds the value types that describe a single server's
// observed state, and the pure comparison logic (TopologyVersion freshness)
// that a monitor uses to decide whether to adopt a new observation.
package description

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/chorusdb/sdam-core/sdam/address"
)

// ServerKind enumerates the roles a server can be classified as.
type ServerKind uint32

// The recognized server kinds. Unknown is the zero value so a
// default-constructed Server reads as not-yet-classified.
const (
	Unknown ServerKind = iota
	Standalone
	RSPrimary
	RSSecondary
	RSArbiter
	RSOther
	RSGhost
	Mongos
	LoadBalancer
)

func (k ServerKind) String() string {
	switch k {
	case Standalone:
		return "Standalone"
	case RSPrimary:
		return "RSPrimary"
	case RSSecondary:
		return "RSSecondary"
	case RSArbiter:
		return "RSArbiter"
	case RSOther:
		return "RSOther"
	case RSGhost:
		return "RSGhost"
	case Mongos:
		return "Mongos"
	case LoadBalancer:
		return "LoadBalancer"
	default:
		return "Unknown"
	}
}

// ServerState is the connectivity state of the server as last observed.
type ServerState uint8

// The two connectivity states a Server can be in.
const (
	Disconnected ServerState = iota
	Connected
)

func (s ServerState) String() string {
	if s == Connected {
		return "Connected"
	}
	return "Disconnected"
}

// WireVersionRange is an inclusive [Min, Max] range of supported wire
// protocol versions.
type WireVersionRange struct {
	Min int32
	Max int32
}

// Includes reports whether v falls within the inclusive range.
func (r WireVersionRange) Includes(v int32) bool {
	return v >= r.Min && v <= r.Max
}

// Overlaps reports whether the two ranges share at least one common version.
func (r WireVersionRange) Overlaps(other WireVersionRange) bool {
	return r.Min <= other.Max && other.Min <= r.Max
}

// Server is an immutable record of a server's last-observed state. A Server
// is always produced by deriving from a prior Server via the package's
// constructor functions; callers never mutate one in place.
type Server struct {
	ServerID ServerID
	Endpoint address.Address

	Kind  ServerKind
	State ServerState

	WireVersion *WireVersionRange
	Tags        map[string]string

	AverageRoundTripTime time.Duration

	LastHeartbeatTime time.Time
	LastUpdateTime    time.Time
	LastError         error

	ElectionID *primitive.ObjectID
	SetName    string
	SetVersion int64

	LogicalSessionTimeout *time.Duration

	TopologyVersion *TopologyVersion

	// CanonicalEndpoint is the endpoint the server itself reports as "me",
	// used to detect endpoint aliasing.
	CanonicalEndpoint address.Address

	MaxBatchCount   int32
	MaxDocumentSize int32
	MaxMessageSize  int32

	Version string

	// ReasonChanged is a short diagnostic tag identifying why this
	// description was (re)computed, e.g. "Heartbeat".
	ReasonChanged string

	// IsCompatibleWithDriver is false when WireVersion does not overlap the
	// driver's supported range; such servers still publish State=Connected.
	IsCompatibleWithDriver bool
}

// ServerID is the immutable identity of a monitored server: the topology it
// belongs to plus its endpoint.
type ServerID struct {
	ClusterID string
	Endpoint  address.Address
}

// SupportsStreaming reports whether this server is of a known kind and the
// last response from it included a topologyVersion, which the heartbeat loop
// treats as the signal that the server supports streaming ("exhaust") hellos.
func (s Server) SupportsStreaming() bool {
	return s.Kind != Unknown && s.TopologyVersion != nil
}

// DriverWireVersionRange is the range of wire protocol versions this core
// supports talking to. It is intentionally wide; callers with stricter
// compatibility requirements can reject servers themselves.
var DriverWireVersionRange = WireVersionRange{Min: 0, Max: 25}

// NewDefaultServer returns the base Unknown/Disconnected description used as
// the starting point for every derivation. Every `.With(...)`-style
// derivation in this package starts from a value equal to this one so that
// stale fields never leak forward from a prior, unrelated observation.
func NewDefaultServer(id ServerID) Server {
	return Server{
		ServerID: id,
		Endpoint: id.Endpoint,
		Kind:     Unknown,
		State:    Disconnected,
	}
}

// NewServerFromError derives an Unknown/Disconnected description recording a
// heartbeat failure. tv, if non-nil, is the topologyVersion carried by a
// command error reply, which the caller may have learned about even though
// the overall heartbeat failed.
func NewServerFromError(base Server, err error, tv *TopologyVersion) Server {
	next := NewDefaultServer(base.ServerID)
	next.LastError = err
	next.TopologyVersion = tv
	next.ReasonChanged = "Heartbeat"
	return next
}

// helloResult is the subset of a hello/isMaster response this core reads.
type helloResult struct {
	OK                    bool
	IsWritablePrimary     bool
	Secondary             bool
	ArbiterOnly           bool
	Hidden                bool
	SetName               string
	SetVersion            int64
	ElectionID            *primitive.ObjectID
	Me                    string
	Tags                  map[string]string
	LogicalSessionTimeout *time.Duration
	MinWireVersion        int32
	MaxWireVersion        int32
	MaxBsonObjectSize     int32
	MaxMessageSizeBytes   int32
	MaxWriteBatchSize     int32
	TopologyVersion       *TopologyVersion
	IsShardRouter         bool
}

func parseHello(raw bson.Raw) helloResult {
	var r helloResult
	r.MaxBsonObjectSize = 16 * 1024 * 1024
	r.MaxMessageSizeBytes = 48000000
	r.MaxWriteBatchSize = 100000

	if v, err := raw.LookupErr("ok"); err == nil {
		switch f, ok := v.DoubleOK(); {
		case ok:
			r.OK = f == 1
		default:
			if i, ok := v.Int32OK(); ok {
				r.OK = i == 1
			}
		}
	}
	if v, err := raw.LookupErr("ismaster"); err == nil {
		r.IsWritablePrimary, _ = v.BooleanOK()
	}
	if v, err := raw.LookupErr("isWritablePrimary"); err == nil {
		r.IsWritablePrimary, _ = v.BooleanOK()
	}
	if v, err := raw.LookupErr("secondary"); err == nil {
		r.Secondary, _ = v.BooleanOK()
	}
	if v, err := raw.LookupErr("arbiterOnly"); err == nil {
		r.ArbiterOnly, _ = v.BooleanOK()
	}
	if v, err := raw.LookupErr("hidden"); err == nil {
		r.Hidden, _ = v.BooleanOK()
	}
	if v, err := raw.LookupErr("setName"); err == nil {
		r.SetName, _ = v.StringValueOK()
	}
	if v, err := raw.LookupErr("setVersion"); err == nil {
		r.SetVersion, _ = v.Int64OK()
	}
	if v, err := raw.LookupErr("electionId"); err == nil {
		if oid, ok := v.ObjectIDOK(); ok {
			r.ElectionID = &oid
		}
	}
	if v, err := raw.LookupErr("me"); err == nil {
		r.Me, _ = v.StringValueOK()
	}
	if v, err := raw.LookupErr("msg"); err == nil {
		if s, ok := v.StringValueOK(); ok && s == "isdbgrid" {
			r.IsShardRouter = true
		}
	}
	if v, err := raw.LookupErr("tags"); err == nil {
		if elems, ok := v.DocumentOK(); ok {
			tagElems, _ := elems.Elements()
			tags := make(map[string]string, len(tagElems))
			for _, e := range tagElems {
				if s, ok := e.Value().StringValueOK(); ok {
					tags[e.Key()] = s
				}
			}
			r.Tags = tags
		}
	}
	if v, err := raw.LookupErr("logicalSessionTimeoutMinutes"); err == nil {
		if i, ok := v.Int32OK(); ok {
			d := time.Duration(i) * time.Minute
			r.LogicalSessionTimeout = &d
		}
	}
	if v, err := raw.LookupErr("minWireVersion"); err == nil {
		r.MinWireVersion, _ = v.Int32OK()
	}
	if v, err := raw.LookupErr("maxWireVersion"); err == nil {
		r.MaxWireVersion, _ = v.Int32OK()
	}
	if v, err := raw.LookupErr("maxBsonObjectSize"); err == nil {
		if i, ok := v.Int32OK(); ok {
			r.MaxBsonObjectSize = i
		}
	}
	if v, err := raw.LookupErr("maxMessageSizeBytes"); err == nil {
		if i, ok := v.Int32OK(); ok {
			r.MaxMessageSizeBytes = i
		}
	}
	if v, err := raw.LookupErr("maxWriteBatchSize"); err == nil {
		if i, ok := v.Int32OK(); ok {
			r.MaxWriteBatchSize = i
		}
	}
	if v, err := raw.LookupErr("topologyVersion"); err == nil {
		if doc, ok := v.DocumentOK(); ok {
			if tv, ok := NewTopologyVersion(doc); ok {
				r.TopologyVersion = &tv
			}
		}
	}

	return r
}

func classifyKind(r helloResult) ServerKind {
	switch {
	case r.IsShardRouter:
		return Mongos
	case r.SetName != "" && r.IsWritablePrimary:
		return RSPrimary
	case r.SetName != "" && r.Secondary:
		return RSSecondary
	case r.SetName != "" && r.ArbiterOnly:
		return RSArbiter
	case r.SetName != "" && r.Hidden:
		return RSOther
	case r.SetName != "":
		return RSOther
	default:
		return Standalone
	}
}

// NewServer derives a Connected description from a successful hello/isMaster
// response: type, wire version range, tags, electionId,
// setName/setVersion, logicalSessionTimeout, canonicalEndpoint,
// topologyVersion, and the server-reported size limits are all taken from
// the response, and State is set to Connected; averageRoundTripTime and the
// timestamps are stamped by the caller.
func NewServer(base Server, raw bson.Raw) Server {
	r := parseHello(raw)

	next := NewDefaultServer(base.ServerID)
	next.State = Connected
	next.Kind = classifyKind(r)
	next.WireVersion = &WireVersionRange{Min: r.MinWireVersion, Max: r.MaxWireVersion}
	next.Tags = r.Tags
	next.ElectionID = r.ElectionID
	next.SetName = r.SetName
	next.SetVersion = r.SetVersion
	next.LogicalSessionTimeout = r.LogicalSessionTimeout
	next.TopologyVersion = r.TopologyVersion
	next.CanonicalEndpoint = address.Address(r.Me)
	next.MaxBatchCount = r.MaxWriteBatchSize
	next.MaxDocumentSize = r.MaxBsonObjectSize
	next.MaxMessageSize = r.MaxMessageSizeBytes
	next.ReasonChanged = "Heartbeat"
	next.IsCompatibleWithDriver = DriverWireVersionRange.Overlaps(*next.WireVersion)

	return next
}
