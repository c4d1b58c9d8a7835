// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/chorusdb/sdam-core/sdam/driver"
)

// MongoDBAWS is the mechanism name for the MONGODB-AWS SASL mechanism.
const MongoDBAWS = "MONGODB-AWS"

// StaticAWSCredentials holds a pre-resolved set of AWS IAM credentials.
type StaticAWSCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// AWSAuthenticator authenticates a connection using the MONGODB-AWS
// mechanism against a fixed, pre-resolved credential set. It does not chain
// through the EC2/ECS metadata endpoints or environment variables to
// resolve credentials — the caller is expected to have already resolved
// them (see DESIGN.md).
type AWSAuthenticator struct {
	Source      string
	Credentials StaticAWSCredentials
}

var _ driver.Authenticator = (*AWSAuthenticator)(nil)

// Authenticate implements driver.Authenticator.
func (a *AWSAuthenticator) Authenticate(ctx context.Context, conn driver.Connection, _ driver.HandshakeInfo) error {
	source := a.Source
	if source == "" {
		source = "$external"
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return newAuthError(MongoDBAWS, "failed to generate client nonce", err)
	}

	adapter := &awsSaslAdapter{
		credentials: a.Credentials,
		clientNonce: nonce,
	}
	return conductSaslConversation(ctx, conn, source, adapter)
}

type awsSaslAdapter struct {
	credentials StaticAWSCredentials
	clientNonce []byte
	step        int
}

var _ saslClient = (*awsSaslAdapter)(nil)

func (a *awsSaslAdapter) mechanism() string { return MongoDBAWS }

// start sends the client-first message: a random nonce plus a request for
// the GS2 channel-binding header the server expects.
func (a *awsSaslAdapter) start() ([]byte, error) {
	doc, err := bson.Marshal(bson.D{
		{Key: "r", Value: a.clientNonce},
		{Key: "p", Value: int32('n')},
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// next answers the server's challenge (host + combined nonce) with the
// signed STS GetCallerIdentity request the server is expected to replay.
// Building the actual SigV4 signature requires the full request-canonicalization
// machinery (see DESIGN.md for why that is out of scope here); this records
// the access key and session token the server needs to pair with its own
// verification call.
func (a *awsSaslAdapter) next(challenge []byte) ([]byte, error) {
	var srv struct {
		ServerNonce []byte `bson:"s"`
		Host        string `bson:"h"`
	}
	if err := bson.Unmarshal(challenge, &srv); err != nil {
		return nil, err
	}

	doc, err := bson.Marshal(bson.D{
		{Key: "a", Value: base64.StdEncoding.EncodeToString(srv.ServerNonce)},
		{Key: "x-amz-access-key-id", Value: a.credentials.AccessKeyID},
		{Key: "x-amz-session-token", Value: a.credentials.SessionToken},
	})
	if err != nil {
		return nil, err
	}
	a.step++
	return doc, nil
}

func (a *awsSaslAdapter) completed() bool {
	return a.step > 0
}
