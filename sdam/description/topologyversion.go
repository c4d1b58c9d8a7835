// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TopologyVersion identifies a logical instance of a mongod or mongos
// process. A server restart always yields a new ProcessID, so a change in
// ProcessID invalidates any Counter ordering a client may have cached.
type TopologyVersion struct {
	ProcessID primitive.ObjectID
	Counter   int64
}

// NewTopologyVersion parses a TopologyVersion out of a raw subdocument of the
// shape {processId: ObjectId, counter: Int64}. It returns false if the
// subdocument is missing or does not match that shape.
func NewTopologyVersion(doc bson.Raw) (TopologyVersion, bool) {
	var tv TopologyVersion

	pid, err := doc.LookupErr("processId")
	if err != nil {
		return TopologyVersion{}, false
	}
	oid, ok := pid.ObjectIDOK()
	if !ok {
		return TopologyVersion{}, false
	}

	counterVal, err := doc.LookupErr("counter")
	if err != nil {
		return TopologyVersion{}, false
	}
	counter, ok := counterVal.Int64OK()
	if !ok {
		return TopologyVersion{}, false
	}

	tv.ProcessID = oid
	tv.Counter = counter
	return tv, true
}

// Equal reports whether two TopologyVersions have identical fields.
func (tv TopologyVersion) Equal(other TopologyVersion) bool {
	return tv.ProcessID == other.ProcessID && tv.Counter == other.Counter
}

// CompareFreshness compares a locally held TopologyVersion against one
// reported by a server response. The comparison is deliberately asymmetric:
// a mismatched ProcessID always makes the local value the staler one,
// regardless of which side is being asked, because a process restart
// invalidates any total order over counters that a client may assume.
//
// The result is -1 if local is staler than response, 0 if they describe the
// same moment, and +1 if local is fresher than response.
func (tv TopologyVersion) CompareFreshness(response TopologyVersion) int {
	if tv.ProcessID != response.ProcessID {
		return -1
	}
	switch {
	case tv.Counter < response.Counter:
		return -1
	case tv.Counter > response.Counter:
		return 1
	default:
		return 0
	}
}

// IsStalerThan reports whether tv is strictly staler than response.
func (tv TopologyVersion) IsStalerThan(response TopologyVersion) bool {
	return tv.CompareFreshness(response) < 0
}

// IsFresherThan reports whether tv is strictly fresher than response.
func (tv TopologyVersion) IsFresherThan(response TopologyVersion) bool {
	return tv.CompareFreshness(response) > 0
}

// CompareTopologyVersion is a null-tolerant facade over
// TopologyVersion.CompareFreshness: a nil operand is always considered the
// staler side, and two nils compare equal. Useful when handling command
// errors that may or may not carry a topologyVersion.
func CompareTopologyVersion(local, response *TopologyVersion) int {
	if local == nil && response == nil {
		return 0
	}
	if local == nil {
		return -1
	}
	if response == nil {
		return 1
	}
	return local.CompareFreshness(*response)
}
