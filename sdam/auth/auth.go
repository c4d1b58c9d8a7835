// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package auth implements a pluggable per-connection Authenticator contract.
// ServerMonitor and RoundTripTimeMonitor both default to NoopAuthenticator on
// their dedicated monitoring connections; this package exists for the
// connections application code opens through the same ConnectionFactory for
// real traffic.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/chorusdb/sdam-core/sdam/driver"
)

// ErrNotAuthenticated is returned by an Authenticator when the server
// rejects the credentials presented.
var ErrNotAuthenticated = errors.New("auth: not authenticated")

// NoopAuthenticator never authenticates. Monitoring connections use it
// because the whole point of a heartbeat connection is to avoid the
// handshake round trips that real authentication costs.
type NoopAuthenticator struct{}

// Authenticate implements driver.Authenticator.
func (NoopAuthenticator) Authenticate(context.Context, driver.Connection, driver.HandshakeInfo) error {
	return nil
}

var _ driver.Authenticator = NoopAuthenticator{}

// authError wraps a lower-level error with the mechanism name that produced
// it.
type authError struct {
	mechanism string
	msg       string
	inner     error
}

func newAuthError(mechanism, msg string, inner error) *authError {
	return &authError{mechanism: mechanism, msg: msg, inner: inner}
}

func (e *authError) Error() string {
	if e.inner != nil {
		return fmt.Sprintf("%s: %s: %s", e.mechanism, e.msg, e.inner)
	}
	return fmt.Sprintf("%s: %s", e.mechanism, e.msg)
}

func (e *authError) Unwrap() error { return e.inner }

// saslClient is the minimal SASL conversation contract a concrete mechanism
// must implement; conductSaslConversation drives it against a Connection.
type saslClient interface {
	mechanism() string
	start() (response []byte, err error)
	next(challenge []byte) (response []byte, err error)
	completed() bool
}
