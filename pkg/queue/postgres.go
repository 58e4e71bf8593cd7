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

package queue

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const (
	createSubscriptionsTable = `
CREATE TABLE IF NOT EXISTS mqtt_subscriptions (
	client_id TEXT NOT NULL,
	topic     TEXT NOT NULL,
	qos       SMALLINT NOT NULL,
	PRIMARY KEY (client_id, topic)
)`

	createOutgoingTable = `
CREATE TABLE IF NOT EXISTS mqtt_outgoing (
	client_id      TEXT NOT NULL,
	broker_id      TEXT NOT NULL,
	broker_counter BIGINT NOT NULL,
	message_id     INTEGER NOT NULL,
	topic          TEXT NOT NULL,
	payload        BYTEA,
	qos            SMALLINT NOT NULL,
	PRIMARY KEY (client_id, broker_id, broker_counter)
)`

	createCounterSequence = `CREATE SEQUENCE IF NOT EXISTS mqtt_broker_counter`
)

// PostgresStore is a Store backed by PostgreSQL. The broker counter is a
// database sequence, so counters stay monotonic across broker restarts and
// across brokers sharing one database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to the given DSN, verifies the connection and
// creates the schema if it does not exist.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	for _, stmt := range []string{createSubscriptionsTable, createOutgoingTable, createCounterSequence} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// FetchSubscriptions returns the stored subscriptions for a client.
func (s *PostgresStore) FetchSubscriptions(clientID string) ([]Subscription, error) {
	rows, err := s.db.Query(
		`SELECT topic, qos FROM mqtt_subscriptions WHERE client_id = $1`, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.Topic, &sub.QoS); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SaveSubscription inserts or replaces one subscription.
func (s *PostgresStore) SaveSubscription(clientID string, sub Subscription) error {
	_, err := s.db.Exec(
		`INSERT INTO mqtt_subscriptions (client_id, topic, qos) VALUES ($1, $2, $3)
		 ON CONFLICT (client_id, topic) DO UPDATE SET qos = EXCLUDED.qos`,
		clientID, sub.Topic, sub.QoS)
	return err
}

// RemoveSubscription deletes one subscription by topic.
func (s *PostgresStore) RemoveSubscription(clientID, topic string) error {
	_, err := s.db.Exec(
		`DELETE FROM mqtt_subscriptions WHERE client_id = $1 AND topic = $2`,
		clientID, topic)
	return err
}

// Subscribers returns the ids of every client subscribed to the exact topic.
func (s *PostgresStore) Subscribers(topic string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT client_id FROM mqtt_subscriptions WHERE topic = $1`, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscribers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EnqueueCombined stores one copy of the message per subscriber, all under
// one freshly assigned broker counter.
func (s *PostgresStore) EnqueueCombined(subscribers []string, msg *Message) error {
	if len(subscribers) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var counter uint64
	if err := tx.QueryRow(`SELECT nextval('mqtt_broker_counter')`).Scan(&counter); err != nil {
		return fmt.Errorf("failed to advance broker counter: %w", err)
	}
	for _, id := range subscribers {
		_, err := tx.Exec(
			`INSERT INTO mqtt_outgoing (client_id, broker_id, broker_counter, message_id, topic, payload, qos)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, msg.BrokerID, counter, msg.MessageID, msg.Topic, msg.Payload, msg.QoS)
		if err != nil {
			return fmt.Errorf("failed to enqueue message for %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// FetchOutgoing returns every undelivered message owed to a client.
func (s *PostgresStore) FetchOutgoing(clientID string) ([]*Message, error) {
	rows, err := s.db.Query(
		`SELECT broker_id, broker_counter, message_id, topic, payload, qos
		 FROM mqtt_outgoing WHERE client_id = $1 ORDER BY broker_counter`, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch outgoing messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{ClientID: clientID}
		if err := rows.Scan(&m.BrokerID, &m.BrokerCounter, &m.MessageID, &m.Topic, &m.Payload, &m.QoS); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// UpdateOutgoing rebinds the packet identifier of a stored message.
func (s *PostgresStore) UpdateOutgoing(clientID string, msg *Message) error {
	res, err := s.db.Exec(
		`UPDATE mqtt_outgoing SET message_id = $1
		 WHERE client_id = $2 AND broker_id = $3 AND broker_counter = $4`,
		msg.MessageID, clientID, msg.BrokerID, msg.BrokerCounter)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoSuchPacket
	}
	return nil
}

// DeleteOutgoing settles a stored message.
func (s *PostgresStore) DeleteOutgoing(clientID string, msg *Message) error {
	res, err := s.db.Exec(
		`DELETE FROM mqtt_outgoing
		 WHERE client_id = $1 AND broker_id = $2 AND broker_counter = $3`,
		clientID, msg.BrokerID, msg.BrokerCounter)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoSuchPacket
	}
	return nil
}

// DropSession wipes all state held for a client.
func (s *PostgresStore) DropSession(clientID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM mqtt_subscriptions WHERE client_id = $1`, clientID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM mqtt_outgoing WHERE client_id = $1`, clientID); err != nil {
		return err
	}
	return tx.Commit()
}
