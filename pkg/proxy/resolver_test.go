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

package proxy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"net"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var socketAddr = &net.TCPAddr{IP: net.IPv4(203, 0, 113, 9), Port: 41000}

// proxyV2Header builds a binary PROXY protocol v2 header for a TCP
// connection from src to dst.
func proxyV2Header(t *testing.T, src, dst *net.TCPAddr) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write([]byte{0x0D, 0x0A, 0x0D, 0x0A, 0x00, 0x0D, 0x0A, 0x51, 0x55, 0x49, 0x54, 0x0A})
	buf.WriteByte(0x21) // version 2, PROXY command

	srcIP, dstIP := src.IP.To4(), dst.IP.To4()
	if srcIP != nil {
		buf.WriteByte(0x11) // TCP over IPv4
		binary.Write(&buf, binary.BigEndian, uint16(12))
	} else {
		srcIP, dstIP = src.IP.To16(), dst.IP.To16()
		buf.WriteByte(0x21) // TCP over IPv6
		binary.Write(&buf, binary.BigEndian, uint16(36))
	}
	buf.Write(srcIP)
	buf.Write(dstIP)
	binary.Write(&buf, binary.BigEndian, uint16(src.Port))
	binary.Write(&buf, binary.BigEndian, uint16(dst.Port))
	return buf.Bytes()
}

func TestResolveStreamV1(t *testing.T) {
	stream := append([]byte("PROXY TCP4 192.168.1.1 192.168.1.2 12345 1883\r\n"), 0x10)
	br := bufio.NewReader(bytes.NewReader(stream))

	d, err := ResolveStream(br, socketAddr, true)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "192.168.1.1", d.IPAddress)
	assert.Equal(t, "ipv4", d.IPFamily)
	assert.Equal(t, 12345, d.Port)

	// The header is consumed and the MQTT stream follows unaltered.
	next, err := br.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x10), next)
}

func TestResolveStreamV2IPv4(t *testing.T) {
	src := &net.TCPAddr{IP: net.IPv4(10, 10, 10, 10), Port: 33000}
	dst := &net.TCPAddr{IP: net.IPv4(10, 10, 10, 1), Port: 1883}
	stream := append(proxyV2Header(t, src, dst), 0x10)
	br := bufio.NewReader(bytes.NewReader(stream))

	d, err := ResolveStream(br, socketAddr, true)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "10.10.10.10", d.IPAddress)
	assert.Equal(t, "ipv4", d.IPFamily)
	assert.Equal(t, 33000, d.Port)

	next, err := br.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x10), next)
}

func TestResolveStreamV2IPv6(t *testing.T) {
	src := &net.TCPAddr{IP: net.ParseIP("2001:db8::1"), Port: 33000}
	dst := &net.TCPAddr{IP: net.ParseIP("2001:db8::2"), Port: 1883}
	br := bufio.NewReader(bytes.NewReader(proxyV2Header(t, src, dst)))

	d, err := ResolveStream(br, socketAddr, true)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "2001:db8::1", d.IPAddress)
	assert.Equal(t, "ipv6", d.IPFamily)
}

func TestResolveStreamFallsBackToSocket(t *testing.T) {
	// A plain MQTT CONNECT header, no proxy framing.
	stream := []byte{0x10, 0x00}
	br := bufio.NewReader(bytes.NewReader(stream))

	d, err := ResolveStream(br, socketAddr, true)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "203.0.113.9", d.IPAddress)
	assert.Equal(t, 41000, d.Port)

	next, err := br.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x10), next)
}

func TestResolveStreamUntrusted(t *testing.T) {
	br := bufio.NewReader(bytes.NewReader([]byte("PROXY TCP4 192.168.1.1 192.168.1.2 12345 1883\r\n")))

	d, err := ResolveStream(br, socketAddr, false)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestResolveStreamMalformed(t *testing.T) {
	br := bufio.NewReader(bytes.NewReader([]byte("PROXY NONSENSE\r\n")))

	_, err := ResolveStream(br, socketAddr, true)
	assert.Error(t, err)
}

func TestResolveHTTPRealIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/mqtt", nil)
	r.Header.Set("X-Real-Ip", "192.0.2.7")
	r.Header.Set("X-Forwarded-For", "198.51.100.1, 192.0.2.254")

	d := ResolveHTTP(r, true)
	require.NotNil(t, d)
	assert.Equal(t, "192.0.2.7", d.IPAddress)
	assert.Equal(t, "ipv4", d.IPFamily)
}

func TestResolveHTTPForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/mqtt", nil)
	r.Header.Set("X-Forwarded-For", "198.51.100.1, 192.0.2.254")

	d := ResolveHTTP(r, true)
	require.NotNil(t, d)
	assert.Equal(t, "198.51.100.1", d.IPAddress)
}

func TestResolveHTTPSocketFallback(t *testing.T) {
	r := httptest.NewRequest("GET", "/mqtt", nil)
	r.RemoteAddr = "203.0.113.9:41000"

	d := ResolveHTTP(r, true)
	require.NotNil(t, d)
	assert.Equal(t, "203.0.113.9", d.IPAddress)
	assert.Equal(t, 41000, d.Port)
}

func TestResolveHTTPUntrusted(t *testing.T) {
	r := httptest.NewRequest("GET", "/mqtt", nil)
	r.Header.Set("X-Real-Ip", "192.0.2.7")

	assert.Nil(t, ResolveHTTP(r, false))
}
