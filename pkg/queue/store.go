// Copyright 2026 The mqttx-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue defines the durable outgoing-queue contract a persistence
// backend must satisfy, and ships an in-memory and a PostgreSQL
// implementation. The broker consults a Store once a session is admitted to
// resume undelivered QoS >= 1 work, and writes to it whenever a publish is
// owed to a subscriber.
package queue

import "errors"

// ErrNoSuchPacket is returned by UpdateOutgoing and DeleteOutgoing when the
// referenced (brokerId, brokerCounter, messageId) tuple was never enqueued
// for that client. Callers treat it as an ordinary error value.
var ErrNoSuchPacket = errors.New("no such packet")

// Subscription is one topic filter a client has subscribed to, with its
// granted QoS.
type Subscription struct {
	Topic string
	QoS   byte
}

// Message is one not-yet-acknowledged publish owed to a subscriber. It is
// keyed by (ClientID, BrokerID, BrokerCounter, MessageID): BrokerCounter is
// a broker-local monotonic counter assigned at enqueue time, MessageID is
// the MQTT packet identifier, which may be rebound on redelivery.
type Message struct {
	ClientID      string
	BrokerID      string
	BrokerCounter uint64
	MessageID     uint16
	Topic         string
	Payload       []byte
	QoS           byte
	Retain        bool
	Dup           bool
}

// Store is the at-least-once delivery contract. All methods are safe for
// concurrent use.
type Store interface {
	// FetchSubscriptions returns the stored subscriptions for a client.
	// A missing client yields an empty slice, not an error.
	FetchSubscriptions(clientID string) ([]Subscription, error)

	// SaveSubscription inserts or replaces one subscription.
	SaveSubscription(clientID string, sub Subscription) error

	// RemoveSubscription deletes one subscription by topic.
	RemoveSubscription(clientID, topic string) error

	// Subscribers returns the ids of every client subscribed to the exact
	// topic.
	Subscribers(topic string) ([]string, error)

	// EnqueueCombined stores one copy of the message for each listed
	// subscriber under a freshly assigned broker counter, all sharing the
	// same counter value.
	EnqueueCombined(subscribers []string, msg *Message) error

	// FetchOutgoing returns every undelivered message owed to a client,
	// in enqueue order.
	FetchOutgoing(clientID string) ([]*Message, error)

	// UpdateOutgoing rebinds the packet identifier of a stored message,
	// located by (BrokerID, BrokerCounter). It returns ErrNoSuchPacket
	// when no such message exists for the client.
	UpdateOutgoing(clientID string, msg *Message) error

	// DeleteOutgoing settles a stored message, located the same way as
	// UpdateOutgoing. It returns ErrNoSuchPacket when absent.
	DeleteOutgoing(clientID string, msg *Message) error

	// DropSession wipes all state held for a client. Used when a clean
	// session is admitted.
	DropSession(clientID string) error
}
