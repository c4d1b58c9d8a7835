// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"

	"github.com/xdg-go/scram"

	"github.com/chorusdb/sdam-core/sdam/driver"
)

// ScramSHA256 is the mechanism name for SCRAM-SHA-256.
const ScramSHA256 = "SCRAM-SHA-256"

// ScramAuthenticator authenticates a connection using SCRAM-SHA-256,
// delegating the actual challenge/response math to xdg-go/scram so that this
// core never reimplements a password hashing or HMAC primitive.
type ScramAuthenticator struct {
	Source   string
	Username string
	Password string
}

var _ driver.Authenticator = (*ScramAuthenticator)(nil)

// Authenticate implements driver.Authenticator.
func (a *ScramAuthenticator) Authenticate(ctx context.Context, conn driver.Connection, _ driver.HandshakeInfo) error {
	client, err := scram.SHA256.NewClient(a.Username, a.Password, "")
	if err != nil {
		return newAuthError(ScramSHA256, "failed to construct scram client", err)
	}

	source := a.Source
	if source == "" {
		source = "admin"
	}

	adapter := &scramSaslAdapter{conversation: client.NewConversation()}
	return conductSaslConversation(ctx, conn, source, adapter)
}

type scramSaslAdapter struct {
	conversation *scram.ClientConversation
}

var _ saslClient = (*scramSaslAdapter)(nil)

func (a *scramSaslAdapter) mechanism() string { return ScramSHA256 }

func (a *scramSaslAdapter) start() ([]byte, error) {
	step, err := a.conversation.Step("")
	if err != nil {
		return nil, err
	}
	return []byte(step), nil
}

func (a *scramSaslAdapter) next(challenge []byte) ([]byte, error) {
	step, err := a.conversation.Step(string(challenge))
	if err != nil {
		return nil, err
	}
	return []byte(step), nil
}

func (a *scramSaslAdapter) completed() bool {
	return a.conversation.Done() && a.conversation.Valid()
}
