// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/chorusdb/sdam-core/sdam/driver"
)

// conductSaslConversation drives a SASL mechanism's saslStart/saslContinue
// exchange over a Connection.
func conductSaslConversation(ctx context.Context, conn driver.Connection, source string, client saslClient) error {
	payload, err := client.start()
	if err != nil {
		return newAuthError(client.mechanism(), "initial step failed", err)
	}

	cmd := bson.D{
		{Key: "saslStart", Value: int32(1)},
		{Key: "mechanism", Value: client.mechanism()},
		{Key: "payload", Value: payload},
		{Key: "$db", Value: source},
	}

	for {
		reply, err := conn.RunCommand(ctx, cmd)
		if err != nil {
			return &driver.NetworkError{Err: err}
		}

		var res struct {
			ConversationID int32  `bson:"conversationId"`
			Payload        []byte `bson:"payload"`
			Done           bool   `bson:"done"`
		}
		if err := bson.Unmarshal(reply, &res); err != nil {
			return newAuthError(client.mechanism(), "malformed sasl reply", err)
		}

		if res.Done && client.completed() {
			return nil
		}
		if res.Done {
			// The server says the conversation is complete, but the client's
			// own state machine disagrees; treat as a failed verification of
			// the server's final message.
			return newAuthError(client.mechanism(), "server ended conversation before client completed", nil)
		}

		payload, err = client.next(res.Payload)
		if err != nil {
			return newAuthError(client.mechanism(), "conversation step failed", err)
		}

		cmd = bson.D{
			{Key: "saslContinue", Value: int32(1)},
			{Key: "conversationId", Value: res.ConversationID},
			{Key: "payload", Value: payload},
			{Key: "$db", Value: source},
		}
	}
}
