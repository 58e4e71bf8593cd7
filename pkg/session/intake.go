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

package session

import (
	"errors"

	"github.com/mochi-mqtt/server/v2/packets"
)

// ErrQueueLimit is the fatal overflow signal. Its text is the exact message
// surfaced on the resulting connection error.
var ErrQueueLimit = errors.New("Client queue limit reached")

// IntakeQueue buffers packets that arrive after a CONNECT but before the
// authorization hook has resolved. It is bounded: growing past the limit is
// a fatal connection error, never a silent drop. The queue belongs to a
// single connection task and needs no locking of its own; Client.MarkConnected
// drains it under the client mutex.
type IntakeQueue struct {
	limit   int
	packets []*packets.Packet
}

// NewIntakeQueue creates a queue holding at most limit packets.
func NewIntakeQueue(limit int) *IntakeQueue {
	return &IntakeQueue{limit: limit}
}

// Append buffers one packet, or returns ErrQueueLimit when the packet would
// exceed the bound. The queue length never exceeds the limit.
func (q *IntakeQueue) Append(pk *packets.Packet) error {
	if len(q.packets) >= q.limit {
		return ErrQueueLimit
	}
	q.packets = append(q.packets, pk)
	return nil
}

// Len returns the number of buffered packets.
func (q *IntakeQueue) Len() int {
	return len(q.packets)
}

// drain hands over the buffered packets in arrival order and empties the
// queue for good.
func (q *IntakeQueue) drain() []*packets.Packet {
	pks := q.packets
	q.packets = nil
	return pks
}
