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

// Package proxy recovers the true originating address of a connection. Byte
// streams may carry PROXY protocol v1 (text) or v2 (binary) framing ahead
// of the MQTT traffic; WebSocket upgrades may carry x-real-ip or
// x-forwarded-for headers. Resolution only happens when the operator has
// opted in with trust_proxy; otherwise the socket peer address stands.
package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/pires/go-proxyproto"
)

// Details is a resolved originating address.
type Details struct {
	IPAddress string
	IPFamily  string
	Port      int
}

// ResolveStream inspects the head of a byte stream for PROXY protocol
// framing. The header, when present, is consumed so that plain MQTT bytes
// follow; when absent nothing is consumed and the socket remote address is
// returned. With trust disabled no resolution happens and the result is
// nil. A malformed header is a connection-level error: the caller must
// terminate the transport before any CONNECT is processed.
func ResolveStream(br *bufio.Reader, remote net.Addr, trust bool) (*Details, error) {
	if !trust {
		return nil, nil
	}

	header, err := proxyproto.Read(br)
	if err != nil {
		if errors.Is(err, proxyproto.ErrNoProxyProtocol) {
			return fromAddr(remote), nil
		}
		return nil, fmt.Errorf("malformed proxy protocol header: %w", err)
	}
	return fromAddr(header.SourceAddr), nil
}

// ResolveHTTP resolves the originating address of an upgraded HTTP request.
// Order: x-real-ip, then the first entry of x-forwarded-for, then the
// socket remote address.
func ResolveHTTP(r *http.Request, trust bool) *Details {
	if !trust {
		return nil
	}

	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return fromIP(ip, 0)
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return fromIP(first, 0)
		}
	}

	host, portStr, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return fromIP(r.RemoteAddr, 0)
	}
	port, _ := strconv.Atoi(portStr)
	return fromIP(host, port)
}

func fromAddr(addr net.Addr) *Details {
	if addr == nil {
		return nil
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return &Details{
			IPAddress: tcp.IP.String(),
			IPFamily:  family(tcp.IP),
			Port:      tcp.Port,
		}
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return fromIP(addr.String(), 0)
	}
	port, _ := strconv.Atoi(portStr)
	return fromIP(host, port)
}

func fromIP(ip string, port int) *Details {
	return &Details{
		IPAddress: ip,
		IPFamily:  family(net.ParseIP(ip)),
		Port:      port,
	}
}

func family(ip net.IP) string {
	if ip == nil {
		return ""
	}
	if ip.To4() != nil {
		return "ipv4"
	}
	return "ipv6"
}
