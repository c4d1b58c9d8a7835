// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/chorusdb/sdam-core/internal/assert"
	"github.com/chorusdb/sdam-core/sdam/address"
)

func mustMarshal(t *testing.T, fields bson.D) bson.Raw {
	t.Helper()
	doc, err := bson.Marshal(fields)
	assert.NoError(t, err)
	return bson.Raw(doc)
}

func TestWireVersionRange_Includes(t *testing.T) {
	t.Parallel()

	r := WireVersionRange{Min: 6, Max: 17}
	assert.True(t, r.Includes(6))
	assert.True(t, r.Includes(17))
	assert.True(t, r.Includes(10))
	assert.True(t, !r.Includes(5))
	assert.True(t, !r.Includes(18))
}

func TestWireVersionRange_Overlaps(t *testing.T) {
	t.Parallel()

	r := WireVersionRange{Min: 6, Max: 17}
	assert.True(t, r.Overlaps(WireVersionRange{Min: 17, Max: 20}))
	assert.True(t, r.Overlaps(WireVersionRange{Min: 0, Max: 6}))
	assert.True(t, !r.Overlaps(WireVersionRange{Min: 18, Max: 20}))
	assert.True(t, !r.Overlaps(WireVersionRange{Min: 0, Max: 5}))
}

func TestNewServer_Standalone(t *testing.T) {
	t.Parallel()

	id := ServerID{ClusterID: "c1", Endpoint: address.Address("h1:27017")}
	base := NewDefaultServer(id)

	raw := mustMarshal(t, bson.D{
		{Key: "ok", Value: 1},
		{Key: "ismaster", Value: true},
		{Key: "minWireVersion", Value: int32(0)},
		{Key: "maxWireVersion", Value: int32(17)},
	})

	next := NewServer(base, raw)
	assert.Equal(t, Connected, next.State)
	assert.Equal(t, Standalone, next.Kind)
	assert.True(t, next.IsCompatibleWithDriver)
}

func TestNewServer_ReplicaSetPrimary(t *testing.T) {
	t.Parallel()

	id := ServerID{ClusterID: "c1", Endpoint: address.Address("h1:27017")}
	base := NewDefaultServer(id)
	electionID := primitive.NewObjectID()

	raw := mustMarshal(t, bson.D{
		{Key: "ok", Value: 1},
		{Key: "ismaster", Value: true},
		{Key: "setName", Value: "rs0"},
		{Key: "setVersion", Value: int64(3)},
		{Key: "electionId", Value: electionID},
		{Key: "minWireVersion", Value: int32(0)},
		{Key: "maxWireVersion", Value: int32(17)},
	})

	next := NewServer(base, raw)
	assert.Equal(t, RSPrimary, next.Kind)
	assert.Equal(t, "rs0", next.SetName)
	assert.Equal(t, int64(3), next.SetVersion)
	assert.NotNil(t, next.ElectionID)
	assert.Equal(t, electionID, *next.ElectionID)
}

func TestNewServer_ReplicaSetSecondary(t *testing.T) {
	t.Parallel()

	id := ServerID{ClusterID: "c1", Endpoint: address.Address("h1:27017")}
	base := NewDefaultServer(id)

	raw := mustMarshal(t, bson.D{
		{Key: "ok", Value: 1},
		{Key: "ismaster", Value: false},
		{Key: "secondary", Value: true},
		{Key: "setName", Value: "rs0"},
		{Key: "minWireVersion", Value: int32(0)},
		{Key: "maxWireVersion", Value: int32(17)},
	})

	next := NewServer(base, raw)
	assert.Equal(t, RSSecondary, next.Kind)
}

func TestNewServer_Mongos(t *testing.T) {
	t.Parallel()

	id := ServerID{ClusterID: "c1", Endpoint: address.Address("h1:27017")}
	base := NewDefaultServer(id)

	raw := mustMarshal(t, bson.D{
		{Key: "ok", Value: 1},
		{Key: "ismaster", Value: true},
		{Key: "msg", Value: "isdbgrid"},
		{Key: "minWireVersion", Value: int32(0)},
		{Key: "maxWireVersion", Value: int32(17)},
	})

	next := NewServer(base, raw)
	assert.Equal(t, Mongos, next.Kind)
}

func TestNewServer_IncompatibleWireVersion(t *testing.T) {
	t.Parallel()

	id := ServerID{ClusterID: "c1", Endpoint: address.Address("h1:27017")}
	base := NewDefaultServer(id)

	raw := mustMarshal(t, bson.D{
		{Key: "ok", Value: 1},
		{Key: "ismaster", Value: true},
		{Key: "minWireVersion", Value: int32(30)},
		{Key: "maxWireVersion", Value: int32(35)},
	})

	next := NewServer(base, raw)
	assert.True(t, !next.IsCompatibleWithDriver, "expected a disjoint wire range to be reported incompatible")
	assert.Equal(t, Connected, next.State, "an incompatible server is still Connected")
}

func TestNewServer_TopologyVersionCarried(t *testing.T) {
	t.Parallel()

	id := ServerID{ClusterID: "c1", Endpoint: address.Address("h1:27017")}
	base := NewDefaultServer(id)
	pid := primitive.NewObjectID()

	raw := mustMarshal(t, bson.D{
		{Key: "ok", Value: 1},
		{Key: "ismaster", Value: true},
		{Key: "minWireVersion", Value: int32(0)},
		{Key: "maxWireVersion", Value: int32(17)},
		{Key: "topologyVersion", Value: bson.D{
			{Key: "processId", Value: pid},
			{Key: "counter", Value: int64(4)},
		}},
	})

	next := NewServer(base, raw)
	assert.NotNil(t, next.TopologyVersion)
	assert.Equal(t, pid, next.TopologyVersion.ProcessID)
	assert.Equal(t, int64(4), next.TopologyVersion.Counter)
	assert.True(t, next.SupportsStreaming())
}

func TestServer_SupportsStreaming_FalseWhenUnknown(t *testing.T) {
	t.Parallel()

	id := ServerID{ClusterID: "c1", Endpoint: address.Address("h1:27017")}
	s := NewDefaultServer(id)
	s.TopologyVersion = &TopologyVersion{ProcessID: primitive.NewObjectID(), Counter: 1}

	assert.True(t, !s.SupportsStreaming(), "a server with Kind==Unknown never supports streaming, even with a topologyVersion set")
}

func TestNewServerFromError(t *testing.T) {
	t.Parallel()

	id := ServerID{ClusterID: "c1", Endpoint: address.Address("h1:27017")}
	base := NewDefaultServer(id)
	base.Kind = RSPrimary
	base.State = Connected

	tv := &TopologyVersion{ProcessID: primitive.NewObjectID(), Counter: 2}
	err := errors.New("connection reset by peer")

	next := NewServerFromError(base, err, tv)
	assert.Equal(t, Unknown, next.Kind)
	assert.Equal(t, Disconnected, next.State)
	assert.Equal(t, err, next.LastError)
	assert.Equal(t, tv, next.TopologyVersion)
}

func TestNewServer_TableDriven(t *testing.T) {
	t.Parallel()

	id := ServerID{ClusterID: "c1", Endpoint: address.Address("h1:27017")}

	cases := []struct {
		name string
		raw  bson.D
		want Server
	}{
		{
			name: "standalone",
			raw: bson.D{
				{Key: "ok", Value: 1},
				{Key: "ismaster", Value: true},
				{Key: "minWireVersion", Value: int32(0)},
				{Key: "maxWireVersion", Value: int32(17)},
			},
			want: Server{
				ServerID:               id,
				Endpoint:               id.Endpoint,
				State:                  Connected,
				Kind:                   Standalone,
				WireVersion:            &WireVersionRange{Min: 0, Max: 17},
				MaxBatchCount:          100000,
				MaxDocumentSize:        16 * 1024 * 1024,
				MaxMessageSize:         48000000,
				ReasonChanged:          "Heartbeat",
				IsCompatibleWithDriver: true,
			},
		},
		{
			name: "arbiter",
			raw: bson.D{
				{Key: "ok", Value: 1},
				{Key: "ismaster", Value: false},
				{Key: "arbiterOnly", Value: true},
				{Key: "setName", Value: "rs0"},
				{Key: "minWireVersion", Value: int32(0)},
				{Key: "maxWireVersion", Value: int32(17)},
			},
			want: Server{
				ServerID:               id,
				Endpoint:               id.Endpoint,
				State:                  Connected,
				Kind:                   RSArbiter,
				SetName:                "rs0",
				WireVersion:            &WireVersionRange{Min: 0, Max: 17},
				MaxBatchCount:          100000,
				MaxDocumentSize:        16 * 1024 * 1024,
				MaxMessageSize:         48000000,
				ReasonChanged:          "Heartbeat",
				IsCompatibleWithDriver: true,
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			base := NewDefaultServer(id)
			got := NewServer(base, mustMarshal(t, tc.raw))

			// LastHeartbeatTime/LastUpdateTime are stamped by the caller, not
			// by NewServer, so they are not part of this comparison.
			// CanonicalEndpoint is compared, and is "" because the reply
			// omits "me".
			diff := cmp.Diff(tc.want, got, cmpopts.IgnoreFields(Server{}, "LastHeartbeatTime", "LastUpdateTime"))
			assert.True(t, diff == "", "unexpected description diff (-want +got):\n%s", diff)
		})
	}
}
