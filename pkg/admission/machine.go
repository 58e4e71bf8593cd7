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

// Package admission drives a connection from its first byte to a
// registered, ready session. The state machine consumes one connection's
// mailbox: decoded packets from the reader goroutine and authorization
// completions from the hook, in one strict order. Everything between the
// first CONNECT and the hook's verdict is buffered in the bounded intake
// queue; the hook never blocks the read side.
package admission

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"

	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/turtacn/mqttx-go/pkg/actor"
	"github.com/turtacn/mqttx-go/pkg/events"
	"github.com/turtacn/mqttx-go/pkg/metrics"
	"github.com/turtacn/mqttx-go/pkg/proxy"
	"github.com/turtacn/mqttx-go/pkg/queue"
	"github.com/turtacn/mqttx-go/pkg/registry"
	"github.com/turtacn/mqttx-go/pkg/session"
)

// CONNACK return codes for MQTT 3.x.
const (
	ConnackAccepted                    byte = 0
	ConnackUnacceptableProtocolVersion byte = 1
	ConnackIdentifierRejected          byte = 2
)

// maxV3ClientIDLen is the 3.1.0 client identifier limit. 3.1.1 lifted it.
const maxV3ClientIDLen = 23

// ErrDisconnected is returned through the delivery path when a session
// sends an orderly DISCONNECT. It closes the connection but is never
// surfaced as a connection error.
var ErrDisconnected = errors.New("client disconnected")

// State is the lifecycle position of one connection.
type State int

const (
	// StateAwaitingConnect accepts exactly one packet kind: CONNECT.
	StateAwaitingConnect State = iota
	// StateAwaitingAuthorization buffers traffic while the hook decides.
	StateAwaitingAuthorization
	// StateAdmitted is the success terminal: the session is registered.
	StateAdmitted
	// StateErrored is the failure terminal: the transport is destroyed.
	StateErrored
)

// Config carries the collaborators a Machine needs.
type Config struct {
	// QueueLimit bounds the intake queue. Exceeding it is fatal.
	QueueLimit int

	// BrokerID keys this broker's entries in the durable outgoing queue.
	BrokerID string

	// PreConnect is the authorization hook, invoked exactly once per
	// handshake attempt. Nil means allow everything.
	PreConnect Hook

	Registry *registry.Registry
	Bus      *events.Bus
	Store    queue.Store

	// Deliver processes one packet of an admitted session: the drained
	// intake queue first, live traffic afterwards. A returned error is
	// fatal to the connection.
	Deliver func(c *session.Client, pk *packets.Packet) error

	// Resume hands undelivered QoS >= 1 messages to the delivery path
	// right after the session becomes ready. Optional.
	Resume func(c *session.Client, msgs []*queue.Message)
}

// authResult is the hook's verdict, tagged with the generation of the
// handshake attempt that requested it.
type authResult struct {
	generation uint64
	client     *session.Client
	err        error
	permitted  bool
}

// Machine is the admission state machine for a single connection. It is
// driven by exactly one goroutine; only the mailbox is touched from
// outside.
type Machine struct {
	cfg     Config
	ctx     context.Context
	conn    net.Conn
	mailbox *actor.Mailbox
	remote  *proxy.Details

	state      State
	client     *session.Client
	intake     *session.IntakeQueue
	generation uint64
	closeOnce  sync.Once
}

// NewMachine creates the machine for one freshly accepted connection.
// ctx spans the connection's lifetime; anything still trying to post to
// the mailbox gives up when it is canceled. remote carries the resolved
// originating address, nil when resolution is disabled.
func NewMachine(ctx context.Context, cfg Config, conn net.Conn, remote *proxy.Details, mb *actor.Mailbox) *Machine {
	return &Machine{
		cfg:     cfg,
		ctx:     ctx,
		conn:    conn,
		mailbox: mb,
		remote:  remote,
		state:   StateAwaitingConnect,
	}
}

// State returns the machine's current lifecycle position.
func (m *Machine) State() State {
	return m.state
}

// Client returns the client of the most recent handshake attempt, nil
// before the first CONNECT.
func (m *Machine) Client() *session.Client {
	return m.client
}

// HandleMessage consumes one mailbox message. A non-nil return is fatal:
// the transport has been destroyed and the caller must stop the
// connection task.
func (m *Machine) HandleMessage(msg any) error {
	switch v := msg.(type) {
	case *packets.Packet:
		return m.handlePacket(v)
	case authResult:
		return m.handleAuthResult(v)
	default:
		log.Printf("admission: unknown mailbox message type %T", msg)
		return nil
	}
}

func (m *Machine) handlePacket(pk *packets.Packet) error {
	switch m.state {
	case StateAwaitingConnect:
		if pk.FixedHeader.Type != packets.Connect {
			return m.fatal(nil, &events.Error{Reason: "Invalid protocol"})
		}
		return m.beginAttempt(pk)

	case StateAwaitingAuthorization:
		if pk.FixedHeader.Type == packets.Connect {
			// A second CONNECT supersedes the pending attempt. The
			// in-flight hook call is not canceled; its completion
			// will be discarded by the generation check.
			return m.beginAttempt(pk)
		}
		if err := m.intake.Append(pk); err != nil {
			metrics.IntakeOverflowsTotal.Inc()
			return m.fatal(m.client, &events.Error{Reason: err.Error(), ClientID: m.client.ID})
		}
		return nil

	case StateAdmitted:
		if pk.FixedHeader.Type == packets.Connect {
			// Duplicate CONNECT on a live session is a protocol
			// violation: the session leaves the registry before the
			// transport goes down.
			violation := &events.Error{Reason: "Invalid protocol", ClientID: m.client.ID}
			m.cfg.Bus.EmitClientError(m.client, violation)
			return m.fatal(m.client, violation)
		}
		return m.cfg.Deliver(m.client, pk)

	default:
		// Terminal; the connection task is already on its way out.
		return nil
	}
}

// beginAttempt validates a CONNECT and, when it passes, starts the
// authorization hook for a new generation.
func (m *Machine) beginAttempt(pk *packets.Packet) error {
	m.generation++
	gen := m.generation

	if m.intake == nil {
		m.intake = session.NewIntakeQueue(m.cfg.QueueLimit)
	}

	c := session.New(pk.Connect.ClientIdentifier, m.conn, m.intake)
	c.ProtocolVersion = pk.ProtocolVersion
	c.Clean = pk.Connect.Clean
	c.Keepalive = pk.Connect.Keepalive
	c.Username = string(pk.Connect.Username)
	c.Password = pk.Connect.Password
	if m.remote != nil {
		c.IPAddress = m.remote.IPAddress
		c.Port = m.remote.Port
	}
	m.client = c

	if err := m.validate(c, pk); err != nil {
		return err
	}

	c.SetConnecting(true)
	m.state = StateAwaitingAuthorization

	hook := m.cfg.PreConnect
	if hook == nil {
		hook = AllowAll
	}
	var once sync.Once
	done := func(err error, permitted bool) {
		once.Do(func() {
			_ = m.mailbox.SendCtx(m.ctx, authResult{generation: gen, client: c, err: err, permitted: permitted})
		})
	}
	go hook(c, done)
	return nil
}

// validate applies the synchronous CONNECT checks in their fixed order;
// the first failure wins.
func (m *Machine) validate(c *session.Client, pk *packets.Packet) error {
	name := string(pk.Connect.ProtocolName)
	if name != "MQIsdp" && name != "MQTT" {
		return m.fatal(c, &events.Error{Reason: "Invalid protocolId", ClientID: c.ID})
	}

	if pk.ProtocolVersion != 3 && pk.ProtocolVersion != 4 {
		_ = c.SendConnack(ConnackUnacceptableProtocolVersion, false)
		return m.fatal(c, &events.Error{Reason: "unacceptable protocol version", ClientID: c.ID})
	}

	if pk.ProtocolVersion == 3 {
		if c.ID == "" {
			return m.fatal(c, &events.Error{Reason: "clientId must be supplied before 3.1.1"})
		}
		if len(c.ID) > maxV3ClientIDLen {
			_ = c.SendConnack(ConnackIdentifierRejected, false)
			return m.fatal(c, &events.Error{Reason: "identifier rejected", ClientID: c.ID})
		}
		return nil
	}

	if c.ID == "" {
		if !c.Clean {
			return m.fatal(c, &events.Error{Reason: "clientId must be given if cleanSession set to 0"})
		}
		c.ID = GenerateClientID()
	}
	return nil
}

func (m *Machine) handleAuthResult(res authResult) error {
	if res.generation != m.generation || m.state != StateAwaitingAuthorization {
		// A superseded attempt resolved late. The connection that has
		// advanced wins; the stale verdict is reported against the
		// superseded attempt's identifier and otherwise discarded.
		res.client.SetConnecting(false)
		m.cfg.Bus.EmitConnectionError(res.client, &events.Error{
			Reason:   "Invalid protocol",
			ClientID: res.client.ID,
		})
		return nil
	}

	if res.err != nil || !res.permitted {
		metrics.AuthRejectionsTotal.Inc()
		res.client.SetConnecting(false)
		err := res.err
		if err == nil {
			err = &events.Error{Reason: "Auth denied", ClientID: res.client.ID}
		}
		return m.fatal(res.client, err)
	}

	return m.admit(res.client)
}

// admit installs the authorized client: observed notification, registry
// insertion, prior-state fetch, queue drain, CONNACK, ready notification,
// outgoing resume. Strictly in that order.
func (m *Machine) admit(c *session.Client) error {
	m.cfg.Bus.EmitClient(c)

	evicted, err := m.cfg.Registry.Register(c.ID, c)
	if err != nil {
		return m.fatal(c, err)
	}
	if evicted != nil {
		log.Printf("Client %s displaced a previous session", c.ID)
		m.cfg.Bus.EmitClientDisconnect(evicted)
	}

	var sessionPresent bool
	if c.Clean {
		if err := m.cfg.Store.DropSession(c.ID); err != nil {
			m.cfg.Bus.EmitClientError(c, err)
		}
	} else {
		subs, err := m.cfg.Store.FetchSubscriptions(c.ID)
		if err != nil {
			// Backend trouble is recoverable: surfaced, not fatal.
			m.cfg.Bus.EmitClientError(c, err)
		} else {
			sessionPresent = c.ProtocolVersion == 4 && len(subs) > 0
		}
	}

	m.state = StateAdmitted
	pending := c.MarkConnected()
	m.intake = nil
	for _, pk := range pending {
		if err := m.cfg.Deliver(c, pk); err != nil {
			if errors.Is(err, ErrDisconnected) {
				// A DISCONNECT buffered during authorization is an
				// orderly goodbye, not a connection error.
				return err
			}
			return m.fatal(c, err)
		}
	}

	if err := c.SendConnack(ConnackAccepted, sessionPresent); err != nil {
		return m.fatal(c, err)
	}
	m.cfg.Bus.EmitClientReady(c)

	if !c.Clean && m.cfg.Resume != nil {
		msgs, err := m.cfg.Store.FetchOutgoing(c.ID)
		if err != nil {
			m.cfg.Bus.EmitClientError(c, err)
		} else if len(msgs) > 0 {
			m.cfg.Resume(c, msgs)
		}
	}
	return nil
}

// fatal terminates the connection: error notification first, then the
// transport goes down exactly once. The returned error stops the
// connection task.
func (m *Machine) fatal(c *session.Client, err error) error {
	m.state = StateErrored
	metrics.ConnectionErrorsTotal.WithLabelValues(err.Error()).Inc()
	m.cfg.Bus.EmitConnectionError(c, err)
	if c != nil {
		// Remove is conditional on the entry still holding c, so a
		// failure before registration is a harmless no-op.
		m.cfg.Registry.Remove(c.ID, c)
		c.Destroy()
	} else {
		m.closeOnce.Do(func() { m.conn.Close() })
	}
	return err
}
