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

// package broker contains the main MQTT broker service. It accepts
// transports, runs each connection through the admission state machine,
// and services the packets of admitted sessions.
package broker

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"

	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/turtacn/mqttx-go/pkg/actor"
	"github.com/turtacn/mqttx-go/pkg/admission"
	"github.com/turtacn/mqttx-go/pkg/config"
	"github.com/turtacn/mqttx-go/pkg/events"
	"github.com/turtacn/mqttx-go/pkg/metrics"
	"github.com/turtacn/mqttx-go/pkg/proxy"
	"github.com/turtacn/mqttx-go/pkg/queue"
	"github.com/turtacn/mqttx-go/pkg/registry"
	"github.com/turtacn/mqttx-go/pkg/session"
	"github.com/turtacn/mqttx-go/pkg/supervisor"
)

// mailboxSize is the per-connection mailbox capacity. Packets and
// authorization completions share it.
const mailboxSize = 64

// Broker owns the session registry, the durable queue and the event bus,
// and admits every connection handed to it.
type Broker struct {
	cfg      config.BrokerConfig
	registry *registry.Registry
	bus      *events.Bus
	store    queue.Store
	sup      supervisor.Supervisor
	hook     admission.Hook
}

// New creates a Broker. A nil hook admits every well-formed CONNECT, a nil
// store means sessions have no durable state across connections.
func New(cfg config.BrokerConfig, store queue.Store, hook admission.Hook) *Broker {
	if store == nil {
		store = queue.NewMemStore()
	}
	return &Broker{
		cfg:      cfg,
		registry: registry.New(),
		bus:      events.NewBus(),
		store:    store,
		sup:      supervisor.NewOneForOneSupervisor(),
		hook:     hook,
	}
}

// Bus exposes the broker's lifecycle event bus for observer registration.
func (b *Broker) Bus() *events.Bus {
	return b.bus
}

// Registry exposes the session registry.
func (b *Broker) Registry() *registry.Registry {
	return b.registry
}

// Close releases the broker's registry actor.
func (b *Broker) Close() {
	b.registry.Close()
}

// StartServer begins listening for incoming TCP connections on the
// specified address.
func (b *Broker) StartServer(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	defer listener.Close()
	log.Printf("MQTT broker listening on %s", addr)

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					log.Printf("Failed to accept connection: %v", err)
				}
				continue
			}
			go b.HandleConnection(ctx, conn)
		}
	}()

	<-ctx.Done()
	log.Println("Listener is shutting down.")
	return nil
}

// StartTLSServer begins listening for TLS connections on the specified
// address using the given PEM certificate and key pair.
func (b *Broker) StartTLSServer(ctx context.Context, addr, certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS key pair: %w", err)
	}

	listener, err := tls.Listen("tcp", addr, &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	defer listener.Close()
	log.Printf("MQTT TLS broker listening on %s", addr)

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					log.Printf("Failed to accept TLS connection: %v", err)
				}
				continue
			}
			go b.HandleConnection(ctx, conn)
		}
	}()

	<-ctx.Done()
	log.Println("TLS listener is shutting down.")
	return nil
}

// HandleConnection runs one stream connection from accept to teardown,
// resolving the originating address from proxy-protocol framing when that
// is trusted.
func (b *Broker) HandleConnection(ctx context.Context, conn net.Conn) {
	reader := bufio.NewReader(conn)
	remote, err := proxy.ResolveStream(reader, conn.RemoteAddr(), b.cfg.TrustProxy)
	if err != nil {
		log.Printf("Rejecting connection from %s: %v", conn.RemoteAddr(), err)
		b.bus.EmitConnectionError(nil, err)
		conn.Close()
		return
	}
	b.serve(ctx, conn, reader, remote)
}

// HandleResolved runs one connection whose originating address was already
// resolved by the transport, as the WebSocket listener does from HTTP
// headers.
func (b *Broker) HandleResolved(ctx context.Context, conn net.Conn, remote *proxy.Details) {
	b.serve(ctx, conn, bufio.NewReader(conn), remote)
}

func (b *Broker) serve(ctx context.Context, conn net.Conn, reader *bufio.Reader, remote *proxy.Details) {
	metrics.ConnectionsTotal.Inc()
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	mb := actor.NewMailbox(mailboxSize)
	machine := admission.NewMachine(connCtx, admission.Config{
		QueueLimit: b.cfg.QueueLimit,
		BrokerID:   b.cfg.BrokerID,
		PreConnect: b.hook,
		Registry:   b.registry,
		Bus:        b.bus,
		Store:      b.store,
		Deliver:    b.deliver,
		Resume: func(c *session.Client, msgs []*queue.Message) {
			b.resume(connCtx, c, msgs)
		},
	}, conn, remote, mb)

	go func() {
		defer cancel()
		for {
			pk, err := readPacket(reader)
			if err != nil {
				if err != io.EOF && connCtx.Err() == nil {
					log.Printf("Error reading packet from %s: %v", conn.RemoteAddr(), err)
					var verr *events.Error
					if errors.As(err, &verr) {
						b.bus.EmitConnectionError(nil, verr)
					}
				}
				return
			}
			// A canceled connection context means the consumer is gone.
			// Bail out instead of blocking on a mailbox nobody drains.
			if err := mb.SendCtx(connCtx, pk); err != nil {
				return
			}
		}
	}()

	clean := false
	for {
		msg, err := mb.Receive(connCtx)
		if err != nil {
			break
		}
		if err := machine.HandleMessage(msg); err != nil {
			clean = errors.Is(err, admission.ErrDisconnected)
			break
		}
	}

	b.teardown(machine, clean)
}

// teardown settles the registry and the event bus for a connection that is
// going away, however it went away.
func (b *Broker) teardown(machine *admission.Machine, clean bool) {
	c := machine.Client()
	if c == nil {
		return
	}

	if machine.State() == admission.StateAdmitted || clean {
		// The registry entry may already belong to a session that took this
		// one over, in which case the takeover path announced the
		// disconnect and this teardown stays silent.
		if b.registry.Remove(c.ID, c) {
			b.bus.EmitClientDisconnect(c)
			if clean {
				log.Printf("Client %s sent DISCONNECT.", c.ID)
			} else {
				log.Printf("Client %s disconnected.", c.ID)
			}
		}
	}
	c.Destroy()
}

// deliver services one packet of an admitted session.
func (b *Broker) deliver(c *session.Client, pk *packets.Packet) error {
	switch pk.FixedHeader.Type {
	case packets.Pingreq:
		return c.WritePacket(&packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Pingresp},
		})

	case packets.Subscribe:
		return b.handleSubscribe(c, pk)

	case packets.Unsubscribe:
		return b.handleUnsubscribe(c, pk)

	case packets.Publish:
		return b.handlePublish(c, pk)

	case packets.Puback:
		return b.handlePuback(c, pk)

	case packets.Disconnect:
		return admission.ErrDisconnected

	default:
		log.Printf("Received unhandled packet type from %s: %v", c.ID, pk.FixedHeader.Type)
		return nil
	}
}

func (b *Broker) handleSubscribe(c *session.Client, pk *packets.Packet) error {
	codes := make([]byte, 0, len(pk.Filters))
	for _, sub := range pk.Filters {
		granted := sub.Qos
		if granted > 1 {
			granted = 1
		}
		if err := b.store.SaveSubscription(c.ID, queue.Subscription{Topic: sub.Filter, QoS: granted}); err != nil {
			b.bus.EmitClientError(c, err)
			codes = append(codes, packets.ErrUnspecifiedError.Code)
			continue
		}
		log.Printf("Client %s subscribed to %s", c.ID, sub.Filter)
		codes = append(codes, granted)
	}
	return c.WritePacket(&packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Suback},
		PacketID:    pk.PacketID,
		ReasonCodes: codes,
	})
}

func (b *Broker) handleUnsubscribe(c *session.Client, pk *packets.Packet) error {
	for _, sub := range pk.Filters {
		if err := b.store.RemoveSubscription(c.ID, sub.Filter); err != nil {
			b.bus.EmitClientError(c, err)
		}
	}
	return c.WritePacket(&packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Unsuback},
		PacketID:    pk.PacketID,
	})
}

// handlePublish fans a publish out to the topic's subscribers. QoS >= 1
// copies are written to the durable queue before anything reaches the
// wire, so a subscriber that is away still gets the message on its next
// session.
func (b *Broker) handlePublish(c *session.Client, pk *packets.Packet) error {
	subscribers, err := b.store.Subscribers(pk.TopicName)
	if err != nil {
		b.bus.EmitClientError(c, err)
		subscribers = nil
	}

	qos := pk.FixedHeader.Qos
	if qos > 1 {
		qos = 1
	}

	if qos > 0 && len(subscribers) > 0 {
		msg := &queue.Message{
			BrokerID:  b.cfg.BrokerID,
			MessageID: pk.PacketID,
			Topic:     pk.TopicName,
			Payload:   pk.Payload,
			QoS:       qos,
			Retain:    pk.FixedHeader.Retain,
		}
		if err := b.store.EnqueueCombined(subscribers, msg); err != nil {
			b.bus.EmitClientError(c, err)
		}
	}

	for _, id := range subscribers {
		target, ok := b.registry.Lookup(id)
		if !ok || !target.Connected() {
			continue
		}
		out := &packets.Packet{
			FixedHeader: packets.FixedHeader{
				Type:   packets.Publish,
				Qos:    qos,
				Retain: pk.FixedHeader.Retain,
			},
			TopicName: pk.TopicName,
			Payload:   pk.Payload,
			PacketID:  pk.PacketID,
		}
		if err := target.WritePacket(out); err != nil {
			log.Printf("Error writing to client %s: %v", id, err)
		}
	}

	if pk.FixedHeader.Qos > 0 {
		return c.WritePacket(&packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Puback},
			PacketID:    pk.PacketID,
		})
	}
	return nil
}

// handlePuback settles the durable copy the acknowledged packet id refers
// to. An ack with no matching queue entry is surfaced as a recoverable
// client error, never a connection error.
func (b *Broker) handlePuback(c *session.Client, pk *packets.Packet) error {
	msgs, err := b.store.FetchOutgoing(c.ID)
	if err != nil {
		b.bus.EmitClientError(c, err)
		return nil
	}
	for _, m := range msgs {
		if m.MessageID == pk.PacketID {
			if err := b.store.DeleteOutgoing(c.ID, m); err != nil {
				b.bus.EmitClientError(c, err)
			}
			return nil
		}
	}
	b.bus.EmitClientError(c, queue.ErrNoSuchPacket)
	return nil
}

// resume replays the undelivered durable queue of a returning session
// through a supervised writer actor.
func (b *Broker) resume(ctx context.Context, c *session.Client, msgs []*queue.Message) {
	mb := actor.NewMailbox(len(msgs) + 1)
	b.sup.StartChild(ctx, supervisor.Spec{
		ID:      fmt.Sprintf("writer-%s", c.ID),
		Actor:   session.NewWriter(c),
		Restart: supervisor.RestartTemporary,
		Mailbox: mb,
	})
	log.Printf("Resuming %d queued messages for client %s", len(msgs), c.ID)
	var mid uint16
	for _, m := range msgs {
		// Rebind each copy to a fresh packet id for this session before
		// it goes back on the wire, so the eventual ack settles the row
		// the client actually saw.
		mid++
		m.MessageID = mid
		if err := b.store.UpdateOutgoing(c.ID, m); err != nil {
			b.bus.EmitClientError(c, err)
			continue
		}
		m.Dup = true
		mb.Send(session.Deliver{Message: m})
	}
}

// readPacket reads a full MQTT packet from a connection.
func readPacket(r *bufio.Reader) (*packets.Packet, error) {
	fh := new(packets.FixedHeader)
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	err = fh.Decode(b)
	if err != nil {
		return nil, err
	}
	rem, _, err := packets.DecodeLength(r)
	if err != nil {
		return nil, err
	}
	fh.Remaining = rem

	buf := make([]byte, fh.Remaining)
	if fh.Remaining > 0 {
		_, err = io.ReadFull(r, buf)
		if err != nil {
			return nil, err
		}
	}

	pk := &packets.Packet{FixedHeader: *fh}
	switch pk.FixedHeader.Type {
	case packets.Connect:
		if err = pk.ConnectDecode(buf); err != nil {
			// The codec refused the CONNECT before the state machine
			// could see it, most commonly an undecodable version.
			return nil, &events.Error{Reason: "Invalid protocol version"}
		}
	case packets.Publish:
		err = pk.PublishDecode(buf)
	case packets.Puback:
		err = pk.PubackDecode(buf)
	case packets.Subscribe:
		err = pk.SubscribeDecode(buf)
	case packets.Unsubscribe:
		err = pk.UnsubscribeDecode(buf)
	case packets.Pingreq:
		err = pk.PingreqDecode(buf)
	case packets.Disconnect:
		err = pk.DisconnectDecode(buf)
	}
	if err != nil {
		return nil, err
	}

	return pk, nil
}
