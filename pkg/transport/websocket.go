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

// package transport carries MQTT over WebSocket. Each upgraded connection
// is wrapped as a net.Conn and handed to the broker's connection handler,
// with the originating address taken from forwarding headers when the
// front proxy is trusted.
package transport

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/turtacn/mqttx-go/pkg/proxy"
)

// Handler consumes one upgraded connection. The broker satisfies it.
type Handler interface {
	HandleResolved(ctx context.Context, conn net.Conn, remote *proxy.Details)
}

var upgrader = websocket.Upgrader{
	Subprotocols: []string{"mqtt"},
	CheckOrigin:  func(*http.Request) bool { return true },
}

// WSServer accepts MQTT-over-WebSocket connections on one HTTP endpoint.
type WSServer struct {
	handler    Handler
	trustProxy bool
	srv        *http.Server
}

// NewWSServer creates a WebSocket listener that feeds handler.
func NewWSServer(handler Handler, trustProxy bool) *WSServer {
	return &WSServer{handler: handler, trustProxy: trustProxy}
}

// Handler returns the HTTP handler serving the /mqtt endpoint.
func (s *WSServer) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mqtt", func(w http.ResponseWriter, r *http.Request) {
		remote := proxy.ResolveHTTP(r, s.trustProxy)
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed for %s: %v", r.RemoteAddr, err)
			return
		}
		go s.handler.HandleResolved(ctx, newWSConn(ws), remote)
	})
	return mux
}

// Start serves the /mqtt endpoint on addr until the context is canceled.
func (s *WSServer) Start(ctx context.Context, addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.Handler(ctx)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	log.Printf("WebSocket listener on %s", addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// wsConn adapts a websocket connection to net.Conn. MQTT frames ride in
// binary messages; message boundaries need not align with MQTT packet
// boundaries, so reads continue across messages.
type wsConn struct {
	ws     *websocket.Conn
	reader io.Reader
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error                       { return c.ws.Close() }
func (c *wsConn) LocalAddr() net.Addr                { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr               { return c.ws.RemoteAddr() }
func (c *wsConn) SetDeadline(t time.Time) error      { return errors.Join(c.ws.SetReadDeadline(t), c.ws.SetWriteDeadline(t)) }
func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
