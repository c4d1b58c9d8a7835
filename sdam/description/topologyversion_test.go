// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/chorusdb/sdam-core/internal/assert"
)

func TestNewTopologyVersion(t *testing.T) {
	t.Parallel()

	pid := primitive.NewObjectID()
	doc, err := bson.Marshal(bson.D{
		{Key: "processId", Value: pid},
		{Key: "counter", Value: int64(7)},
	})
	assert.NoError(t, err)

	tv, ok := NewTopologyVersion(bson.Raw(doc))
	assert.True(t, ok)
	assert.Equal(t, pid, tv.ProcessID)
	assert.Equal(t, int64(7), tv.Counter)
}

func TestNewTopologyVersion_MissingFields(t *testing.T) {
	t.Parallel()

	doc, err := bson.Marshal(bson.D{{Key: "processId", Value: primitive.NewObjectID()}})
	assert.NoError(t, err)

	_, ok := NewTopologyVersion(bson.Raw(doc))
	assert.True(t, !ok, "expected missing counter to fail parsing")
}

func TestTopologyVersion_CompareFreshness(t *testing.T) {
	t.Parallel()

	pid := primitive.NewObjectID()
	other := primitive.NewObjectID()

	local := TopologyVersion{ProcessID: pid, Counter: 5}

	assert.Equal(t, 0, local.CompareFreshness(TopologyVersion{ProcessID: pid, Counter: 5}))
	assert.Equal(t, -1, local.CompareFreshness(TopologyVersion{ProcessID: pid, Counter: 6}))
	assert.Equal(t, 1, local.CompareFreshness(TopologyVersion{ProcessID: pid, Counter: 4}))

	// A mismatched ProcessID always makes local the staler side, even when
	// its own counter is numerically larger: a restarted process invalidates
	// any counter ordering a client had cached.
	assert.Equal(t, -1, local.CompareFreshness(TopologyVersion{ProcessID: other, Counter: 0}))
}

func TestTopologyVersion_IsStalerThan_IsFresherThan(t *testing.T) {
	t.Parallel()

	pid := primitive.NewObjectID()
	other := primitive.NewObjectID()

	local := TopologyVersion{ProcessID: pid, Counter: 5}

	assert.True(t, local.IsStalerThan(TopologyVersion{ProcessID: pid, Counter: 6}))
	assert.True(t, !local.IsFresherThan(TopologyVersion{ProcessID: pid, Counter: 6}))

	assert.True(t, local.IsFresherThan(TopologyVersion{ProcessID: pid, Counter: 4}))
	assert.True(t, !local.IsStalerThan(TopologyVersion{ProcessID: pid, Counter: 4}))

	assert.True(t, !local.IsStalerThan(TopologyVersion{ProcessID: pid, Counter: 5}))
	assert.True(t, !local.IsFresherThan(TopologyVersion{ProcessID: pid, Counter: 5}))

	// A mismatched ProcessID always makes local the staler side.
	assert.True(t, local.IsStalerThan(TopologyVersion{ProcessID: other, Counter: 0}))
}

func TestCompareTopologyVersion_NilTolerant(t *testing.T) {
	t.Parallel()

	pid := primitive.NewObjectID()
	tv := TopologyVersion{ProcessID: pid, Counter: 1}

	assert.Equal(t, 0, CompareTopologyVersion(nil, nil))
	assert.Equal(t, -1, CompareTopologyVersion(nil, &tv))
	assert.Equal(t, 1, CompareTopologyVersion(&tv, nil))
	assert.Equal(t, 0, CompareTopologyVersion(&tv, &tv))
}
