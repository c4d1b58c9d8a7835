// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package assert provides the small set of test assertion helpers this
// module's test suites use: plain functions over *testing.T rather than a
// third-party assertion library, so test failures point at the caller's
// line via t.Helper().
package assert

import (
	"fmt"
	"reflect"
	"testing"
)

func describe(msgAndArgs []interface{}) string {
	if len(msgAndArgs) == 0 {
		return ""
	}
	format, ok := msgAndArgs[0].(string)
	if !ok {
		return fmt.Sprint(msgAndArgs...)
	}
	return ": " + fmt.Sprintf(format, msgAndArgs[1:]...)
}

// True fails the test unless condition is true.
func True(t testing.TB, condition bool, msgAndArgs ...interface{}) {
	t.Helper()
	if !condition {
		t.Fatalf("expected condition to be true%s", describe(msgAndArgs))
	}
}

// False fails the test unless condition is false.
func False(t testing.TB, condition bool, msgAndArgs ...interface{}) {
	t.Helper()
	if condition {
		t.Fatalf("expected condition to be false%s", describe(msgAndArgs))
	}
}

// Nil fails the test unless object is nil.
func Nil(t testing.TB, object interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if !isNil(object) {
		t.Fatalf("expected nil, got %v%s", object, describe(msgAndArgs))
	}
}

// NotNil fails the test unless object is non-nil.
func NotNil(t testing.TB, object interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if isNil(object) {
		t.Fatalf("expected non-nil value%s", describe(msgAndArgs))
	}
}

// NoError fails the test unless err is nil.
func NoError(t testing.TB, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v%s", err, describe(msgAndArgs))
	}
}

// Equal fails the test unless want and got are deeply equal.
func Equal(t testing.TB, want, got interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("expected %v, got %v%s", want, got, describe(msgAndArgs))
	}
}

func isNil(object interface{}) bool {
	if object == nil {
		return true
	}
	v := reflect.ValueOf(object)
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}
