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

package transport

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/mqttx-go/pkg/broker"
	"github.com/turtacn/mqttx-go/pkg/config"
	"github.com/turtacn/mqttx-go/pkg/session"
)

func startTestWSServer(t *testing.T, trustProxy bool) (*broker.Broker, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	cfg := config.DefaultConfig().Broker
	cfg.TrustProxy = trustProxy
	b := broker.New(cfg, nil, nil)

	ws := NewWSServer(b, trustProxy)
	srv := httptest.NewServer(ws.Handler(ctx))
	t.Cleanup(func() {
		cancel()
		srv.Close()
		b.Close()
	})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/mqtt"
	return b, wsURL
}

func connectFrame(t *testing.T, clientID string) []byte {
	t.Helper()
	pk := &packets.Packet{
		FixedHeader:     packets.FixedHeader{Type: packets.Connect},
		ProtocolVersion: 4,
		Connect: packets.ConnectParams{
			ProtocolName:     []byte("MQTT"),
			Clean:            true,
			ClientIdentifier: clientID,
		},
	}
	var buf bytes.Buffer
	require.NoError(t, pk.ConnectEncode(&buf))
	return buf.Bytes()
}

func TestWebSocketConnectHandshake(t *testing.T) {
	b, wsURL := startTestWSServer(t, false)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{
		"Sec-WebSocket-Protocol": []string{"mqtt"},
	})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, connectFrame(t, "ws-client")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, []byte{0x20, 0x02, 0x00, 0x00}, frame, "expected a success CONNACK")

	assert.Eventually(t, func() bool {
		_, ok := b.Registry().Lookup("ws-client")
		return ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWebSocketForwardedAddressResolution(t *testing.T) {
	b, wsURL := startTestWSServer(t, true)

	ready := make(chan *session.Client, 1)
	b.Bus().OnClientReady(func(c *session.Client) { ready <- c })

	header := http.Header{
		"Sec-WebSocket-Protocol": []string{"mqtt"},
		"X-Real-Ip":              []string{"203.0.113.9"},
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, connectFrame(t, "ws-forwarded")))

	select {
	case c := <-ready:
		assert.Equal(t, "203.0.113.9", c.IPAddress)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for admission")
	}
}

func TestWebSocketUntrustedHeadersIgnored(t *testing.T) {
	b, wsURL := startTestWSServer(t, false)

	ready := make(chan *session.Client, 1)
	b.Bus().OnClientReady(func(c *session.Client) { ready <- c })

	header := http.Header{
		"Sec-WebSocket-Protocol": []string{"mqtt"},
		"X-Real-Ip":              []string{"203.0.113.9"},
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, connectFrame(t, "ws-untrusted")))

	select {
	case c := <-ready:
		assert.Empty(t, c.IPAddress)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for admission")
	}
}
