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

import "sync"

// MemStore is the in-memory Store used by default and in tests. A RWMutex
// guards two maps: per-client subscriptions and per-client outgoing
// messages in enqueue order.
type MemStore struct {
	mu       sync.RWMutex
	subs     map[string]map[string]Subscription
	outgoing map[string][]*Message
	counter  uint64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		subs:     make(map[string]map[string]Subscription),
		outgoing: make(map[string][]*Message),
	}
}

// FetchSubscriptions returns the stored subscriptions for a client.
func (s *MemStore) FetchSubscriptions(clientID string) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := make([]Subscription, 0, len(s.subs[clientID]))
	for _, sub := range s.subs[clientID] {
		subs = append(subs, sub)
	}
	return subs, nil
}

// SaveSubscription inserts or replaces one subscription.
func (s *MemStore) SaveSubscription(clientID string, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[clientID] == nil {
		s.subs[clientID] = make(map[string]Subscription)
	}
	s.subs[clientID][sub.Topic] = sub
	return nil
}

// RemoveSubscription deletes one subscription by topic.
func (s *MemStore) RemoveSubscription(clientID, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[clientID], topic)
	return nil
}

// Subscribers returns the ids of every client subscribed to the exact topic.
func (s *MemStore) Subscribers(topic string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, subs := range s.subs {
		if _, ok := subs[topic]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// EnqueueCombined stores one copy of the message per subscriber, all under
// the same freshly assigned broker counter.
func (s *MemStore) EnqueueCombined(subscribers []string, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	for _, id := range subscribers {
		copied := *msg
		copied.ClientID = id
		copied.BrokerCounter = s.counter
		s.outgoing[id] = append(s.outgoing[id], &copied)
	}
	return nil
}

// FetchOutgoing returns every undelivered message owed to a client.
func (s *MemStore) FetchOutgoing(clientID string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]*Message, 0, len(s.outgoing[clientID]))
	for _, m := range s.outgoing[clientID] {
		copied := *m
		msgs = append(msgs, &copied)
	}
	return msgs, nil
}

// UpdateOutgoing rebinds the packet identifier of a stored message.
func (s *MemStore) UpdateOutgoing(clientID string, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.outgoing[clientID] {
		if m.BrokerID == msg.BrokerID && m.BrokerCounter == msg.BrokerCounter {
			m.MessageID = msg.MessageID
			return nil
		}
	}
	return ErrNoSuchPacket
}

// DeleteOutgoing settles a stored message.
func (s *MemStore) DeleteOutgoing(clientID string, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.outgoing[clientID]
	for i, m := range msgs {
		if m.BrokerID == msg.BrokerID && m.BrokerCounter == msg.BrokerCounter {
			s.outgoing[clientID] = append(msgs[:i], msgs[i+1:]...)
			return nil
		}
	}
	return ErrNoSuchPacket
}

// DropSession wipes all state held for a client.
func (s *MemStore) DropSession(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, clientID)
	delete(s.outgoing, clientID)
	return nil
}
