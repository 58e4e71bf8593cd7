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

// Package session holds the per-client session state: the Client identity
// produced by admission, its pre-admission intake queue, and the writer
// actor that delivers outgoing publishes.
package session

import (
	"bytes"
	"fmt"
	"net"
	"sync"

	"github.com/mochi-mqtt/server/v2/packets"
)

// Client is one MQTT session identity. It is created when a CONNECT packet
// begins admission, owned by the registry once admitted, and destroyed on
// disconnect, on admission failure, or when displaced by a newer session
// with the same identifier.
type Client struct {
	ID              string
	ProtocolVersion byte
	Clean           bool
	Keepalive       uint16
	Username        string
	Password        []byte

	// IPAddress and Port hold the resolved originating address, which may
	// come from proxy-protocol framing or forwarding headers rather than
	// the raw socket. IPAddress is empty when resolution is disabled.
	IPAddress string
	Port      int

	mu         sync.Mutex
	connecting bool
	connected  bool
	intake     *IntakeQueue

	conn      net.Conn
	wmu       sync.Mutex
	closeOnce sync.Once
}

// New creates a Client for a handshake attempt. The intake queue buffers
// packets arriving while the authorization hook is pending.
func New(id string, conn net.Conn, intake *IntakeQueue) *Client {
	return &Client{ID: id, conn: conn, intake: intake}
}

// Connecting reports whether an admission attempt is in flight.
func (c *Client) Connecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connecting
}

// Connected reports whether the client has been admitted.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SetConnecting flips the connecting flag. It never coexists with
// connected: callers set it true when an attempt begins and false when the
// attempt ends, whichever way it ends.
func (c *Client) SetConnecting(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connecting = v
}

// MarkConnected transitions the client to connected and clears the intake
// queue in the same critical section, returning the buffered packets in
// arrival order. The queue is never reused afterwards.
func (c *Client) MarkConnected() []*packets.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connecting = false
	c.connected = true
	if c.intake == nil {
		return nil
	}
	pks := c.intake.drain()
	c.intake = nil
	return pks
}

// Intake returns the client's intake queue, nil once drained.
func (c *Client) Intake() *IntakeQueue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intake
}

// WritePacket encodes and writes one control packet to the client. Writes
// are serialized so the connection task and the writer actor never
// interleave frames.
func (c *Client) WritePacket(pk *packets.Packet) error {
	var buf bytes.Buffer
	var err error
	switch pk.FixedHeader.Type {
	case packets.Connack:
		err = pk.ConnackEncode(&buf)
	case packets.Suback:
		err = pk.SubackEncode(&buf)
	case packets.Unsuback:
		err = pk.UnsubackEncode(&buf)
	case packets.Puback:
		err = pk.PubackEncode(&buf)
	case packets.Pingresp:
		err = pk.PingrespEncode(&buf)
	case packets.Publish:
		err = pk.PublishEncode(&buf)
	default:
		return fmt.Errorf("unsupported packet type for writing: %v", pk.FixedHeader.Type)
	}
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.conn.Write(buf.Bytes())
	return err
}

// SendConnack writes a CONNACK with the given return code.
func (c *Client) SendConnack(returnCode byte, sessionPresent bool) error {
	return c.WritePacket(&packets.Packet{
		FixedHeader:    packets.FixedHeader{Type: packets.Connack},
		ReasonCode:     returnCode,
		SessionPresent: sessionPresent,
	})
}

// Destroy tears the client down: both lifecycle flags drop and the
// transport is closed. The close happens exactly once no matter how many
// paths race to it.
func (c *Client) Destroy() {
	c.mu.Lock()
	c.connecting = false
	c.connected = false
	c.mu.Unlock()
	c.closeOnce.Do(func() {
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// RemoteAddr returns the raw socket address, nil without a transport.
func (c *Client) RemoteAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}
