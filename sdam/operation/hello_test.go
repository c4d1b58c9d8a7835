// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/chorusdb/sdam-core/internal/assert"
	"github.com/chorusdb/sdam-core/sdam/description"
)

func TestHelloCommand_Polling(t *testing.T) {
	t.Parallel()

	h := Hello{}
	cmd := h.Command()

	assert.False(t, h.IsStreaming())
	assert.Equal(t, bson.D{{Key: legacyHello, Value: int32(1)}}, cmd)
}

func TestHelloCommand_Streaming(t *testing.T) {
	t.Parallel()

	tv := description.TopologyVersion{ProcessID: primitive.NewObjectID(), Counter: 3}
	h := Hello{TopologyVersion: &tv, MaxAwaitTimeMS: 10000}
	cmd := h.Command()

	assert.True(t, h.IsStreaming())

	doc, err := bson.Marshal(cmd)
	assert.NoError(t, err)

	raw := bson.Raw(doc)
	tvDoc, err := raw.LookupErr("topologyVersion")
	assert.NoError(t, err)
	embedded, ok := tvDoc.DocumentOK()
	assert.True(t, ok)

	gotPID, err := embedded.LookupErr("processId")
	assert.NoError(t, err)
	oid, ok := gotPID.ObjectIDOK()
	assert.True(t, ok)
	assert.Equal(t, tv.ProcessID, oid)

	maxAwait, err := raw.LookupErr("maxAwaitTimeMS")
	assert.NoError(t, err)
	got, ok := maxAwait.Int64OK()
	assert.True(t, ok)
	assert.Equal(t, int64(10000), got)
}

func TestWithAuthenticatorDoc(t *testing.T) {
	t.Parallel()

	cmd := Hello{}.Command()

	noAuth := WithAuthenticatorDoc(cmd, nil)
	assert.Equal(t, cmd, noAuth)

	specAuthBytes, err := bson.Marshal(bson.D{{Key: "saslStart", Value: int32(1)}})
	assert.NoError(t, err)

	withAuth := WithAuthenticatorDoc(cmd, bson.Raw(specAuthBytes))
	assert.Equal(t, len(cmd)+1, len(withAuth))

	doc, err := bson.Marshal(withAuth)
	assert.NoError(t, err)
	embedded, ok := bson.Raw(doc).Lookup("speculativeAuthenticate").DocumentOK()
	assert.True(t, ok)
	assert.Equal(t, bson.Raw(specAuthBytes), bson.Raw(embedded))
}
