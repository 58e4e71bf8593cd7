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

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/turtacn/mqttx-go/pkg/session"
)

func TestBusDeliversInRegistrationOrder(t *testing.T) {
	b := NewBus()
	var order []string
	b.OnClient(func(c *session.Client) { order = append(order, "first") })
	b.OnClient(func(c *session.Client) { order = append(order, "second") })

	b.EmitClient(session.New("c1", nil, nil))

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestBusObservedBeforeReady(t *testing.T) {
	b := NewBus()
	var order []string
	b.OnClientReady(func(c *session.Client) { order = append(order, "ready") })
	b.OnClient(func(c *session.Client) { order = append(order, "observed") })

	c := session.New("c1", nil, nil)
	b.EmitClient(c)
	b.EmitClientReady(c)

	assert.Equal(t, []string{"observed", "ready"}, order)
}

func TestBusConnectionErrorNilClient(t *testing.T) {
	b := NewBus()
	var got error
	b.OnConnectionError(func(c *session.Client, err error) {
		assert.Nil(t, c)
		got = err
	})

	b.EmitConnectionError(nil, &Error{Reason: "Invalid protocol"})

	assert.EqualError(t, got, "Invalid protocol")
}

func TestErrorCarriesClientID(t *testing.T) {
	err := &Error{Reason: "Invalid protocol", ClientID: "stale-attempt"}
	assert.Equal(t, "Invalid protocol", err.Error())
	assert.Equal(t, "stale-attempt", err.ClientID)
}
