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

// Package events carries the broker's ordered lifecycle notifications:
// client observed, client ready, client error, connection error, client
// disconnected. Listeners are invoked synchronously at the emitting state
// transition, so "observed" is always seen before "ready" for the same
// client.
package events

import (
	"sync"

	"github.com/turtacn/mqttx-go/pkg/session"
)

// Error is a lifecycle error with a human-readable reason. ClientID is set
// when the error is attributable to a specific handshake attempt, possibly
// one that has since been superseded.
type Error struct {
	Reason   string
	ClientID string
}

// Error returns the reason text.
func (e *Error) Error() string { return e.Reason }

// Bus is the broker-wide listener registry. Registration order is delivery
// order within one notification kind.
type Bus struct {
	mu                 sync.RWMutex
	onClient           []func(*session.Client)
	onClientReady      []func(*session.Client)
	onClientError      []func(*session.Client, error)
	onConnectionError  []func(*session.Client, error)
	onClientDisconnect []func(*session.Client)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// OnClient registers a listener for "client observed": the client passed
// authorization but is not yet connected.
func (b *Bus) OnClient(fn func(*session.Client)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onClient = append(b.onClient, fn)
}

// OnClientReady registers a listener for "client ready": the CONNACK went
// out and the intake queue has been drained.
func (b *Bus) OnClientReady(fn func(*session.Client)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onClientReady = append(b.onClientReady, fn)
}

// OnClientError registers a listener for recoverable, client-attributed
// errors.
func (b *Bus) OnClientError(fn func(*session.Client, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onClientError = append(b.onClientError, fn)
}

// OnConnectionError registers a listener for fatal connection errors. The
// client argument may be nil when no handshake attempt had begun.
func (b *Bus) OnConnectionError(fn func(*session.Client, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnectionError = append(b.onConnectionError, fn)
}

// OnClientDisconnect registers a listener for orderly disconnects.
func (b *Bus) OnClientDisconnect(fn func(*session.Client)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onClientDisconnect = append(b.onClientDisconnect, fn)
}

// EmitClient notifies "client observed" listeners.
func (b *Bus) EmitClient(c *session.Client) {
	b.mu.RLock()
	fns := b.onClient
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(c)
	}
}

// EmitClientReady notifies "client ready" listeners.
func (b *Bus) EmitClientReady(c *session.Client) {
	b.mu.RLock()
	fns := b.onClientReady
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(c)
	}
}

// EmitClientError notifies client-error listeners.
func (b *Bus) EmitClientError(c *session.Client, err error) {
	b.mu.RLock()
	fns := b.onClientError
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(c, err)
	}
}

// EmitConnectionError notifies connection-error listeners.
func (b *Bus) EmitConnectionError(c *session.Client, err error) {
	b.mu.RLock()
	fns := b.onConnectionError
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(c, err)
	}
}

// EmitClientDisconnect notifies disconnect listeners.
func (b *Bus) EmitClientDisconnect(c *session.Client) {
	b.mu.RLock()
	fns := b.onClientDisconnect
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(c)
	}
}
