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
	"context"
	"log"

	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/turtacn/mqttx-go/pkg/actor"
	"github.com/turtacn/mqttx-go/pkg/queue"
)

// Deliver instructs a Writer to push one durable-queue message to the
// client as a PUBLISH.
type Deliver struct {
	Message *queue.Message
}

// Writer is the actor that owns the outbound publish path of one admitted
// client. Resumed messages from the durable queue are sent through it so
// redelivery never interleaves with the connection task's own writes.
type Writer struct {
	client *Client
}

// NewWriter creates a writer actor for an admitted client.
func NewWriter(c *Client) *Writer {
	return &Writer{client: c}
}

// Start runs the writer loop until the context is canceled or a write
// fails. A write failure stops the actor; the supervisor decides whether
// that ends the session.
func (w *Writer) Start(ctx context.Context, mb *actor.Mailbox) error {
	for {
		msg, err := mb.Receive(ctx)
		if err != nil {
			return err
		}

		switch m := msg.(type) {
		case Deliver:
			pk := &packets.Packet{
				FixedHeader: packets.FixedHeader{
					Type:   packets.Publish,
					Qos:    m.Message.QoS,
					Dup:    m.Message.Dup,
					Retain: m.Message.Retain,
				},
				TopicName: m.Message.Topic,
				Payload:   m.Message.Payload,
				PacketID:  m.Message.MessageID,
			}
			if err := w.client.WritePacket(pk); err != nil {
				log.Printf("Error writing to client %s: %v", w.client.ID, err)
				return err
			}
		default:
			log.Printf("Writer for %s received unknown message type: %T", w.client.ID, m)
		}
	}
}
