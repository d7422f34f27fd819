// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package intercept

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/segsplit/internal/classify"
	"grimm.is/segsplit/internal/kernel"
	"grimm.is/segsplit/internal/metrics"
	"grimm.is/segsplit/internal/packet"
	"grimm.is/segsplit/internal/splitter"
)

func tcpPacket(dst string, payload []byte, rst bool, dir packet.Direction) *packet.Packet {
	return &packet.Packet{
		Direction: dir,
		SrcIP:     net.ParseIP("10.0.0.1"),
		DstIP:     net.ParseIP(dst),
		Protocol:  packet.ProtoTCP,
		TCP: &packet.TCP{
			SrcPort: 443,
			DstPort: 51820,
			Seq:     1,
			RST:     rst,
			Payload: payload,
		},
	}
}

func runUntilDrained(t *testing.T, sk *kernel.SimKernel, l *Loop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Run(ctx)
	require.NoError(t, err)
}

func TestLoop_TargetTrafficGetsSplit(t *testing.T) {
	payload := make([]byte, 2000)
	p := tcpPacket("149.154.167.50", payload, false, packet.Outbound)
	sk := kernel.NewSimKernel(p)

	stats, _ := metrics.New()
	l := New(sk, classify.New(), splitter.Adaptive{}, stats)
	runUntilDrained(t, sk, l)

	assert.Len(t, sk.Sent, 2)
	assert.EqualValues(t, 1, stats.TargetFlagged.Value())
	assert.EqualValues(t, 1, stats.Splitter.Fragmented.Value())
}

func TestLoop_NonTargetTrafficPassesThroughUnsplit(t *testing.T) {
	p := tcpPacket("8.8.8.8", make([]byte, 2000), false, packet.Outbound)
	sk := kernel.NewSimKernel(p)

	stats, _ := metrics.New()
	l := New(sk, classify.New(), splitter.Adaptive{}, stats)
	runUntilDrained(t, sk, l)

	assert.Len(t, sk.Sent, 1)
	assert.EqualValues(t, 0, stats.TargetFlagged.Value())
}

func TestLoop_ForgedRSTIsDropped(t *testing.T) {
	p := tcpPacket("8.8.8.8", nil, true, packet.Inbound)
	sk := kernel.NewSimKernel(p)

	stats, _ := metrics.New()
	l := New(sk, classify.New(), splitter.Adaptive{}, stats)
	runUntilDrained(t, sk, l)

	assert.Len(t, sk.Dropped, 1)
	assert.Empty(t, sk.Sent)
	assert.EqualValues(t, 1, stats.RSTBlocked.Value())
}

func TestLoop_UDPPassesThroughAndCounts(t *testing.T) {
	p := &packet.Packet{
		Direction: packet.Outbound,
		SrcIP:     net.ParseIP("10.0.0.1"),
		DstIP:     net.ParseIP("8.8.8.8"),
		Protocol:  packet.ProtoUDP,
		UDP:       &packet.UDP{SrcPort: 3478, DstPort: 51820, Payload: []byte("stun")},
	}
	sk := kernel.NewSimKernel(p)

	stats, _ := metrics.New()
	l := New(sk, classify.New(), splitter.Adaptive{}, stats)
	runUntilDrained(t, sk, l)

	assert.Len(t, sk.Sent, 1)
	assert.EqualValues(t, 1, stats.UDPSeen.Value())
}

func TestLoop_SNIMatchFlagsNonPrefixDestination(t *testing.T) {
	hello := buildClientHelloPayload("telegram.org")
	p := tcpPacket("8.8.8.8", hello, false, packet.Outbound)
	sk := kernel.NewSimKernel(p)

	stats, _ := metrics.New()
	l := New(sk, classify.New(), splitter.Adaptive{}, stats)
	runUntilDrained(t, sk, l)

	assert.EqualValues(t, 1, stats.TargetFlagged.Value())
	assert.EqualValues(t, 1, stats.TLSRecordsSeen.Value())
}

// buildClientHelloPayload constructs a minimal wire-format ClientHello
// carrying a server_name extension, mirroring the builder in
// internal/tlsparse's own test file.
func buildClientHelloPayload(sni string) []byte {
	var ext []byte
	nameEntry := append([]byte{0x00, byte(len(sni) >> 8), byte(len(sni))}, []byte(sni)...)
	list := append([]byte{byte(len(nameEntry) >> 8), byte(len(nameEntry))}, nameEntry...)
	ext = append(ext, 0x00, 0x00) // extension type: server_name
	ext = append(ext, byte(len(list)>>8), byte(len(list)))
	ext = append(ext, list...)

	var body []byte
	body = append(body, 0x03, 0x03)             // legacy version
	body = append(body, make([]byte, 32)...)    // random
	body = append(body, 0x00)                   // session id len
	body = append(body, 0x00, 0x02, 0x13, 0x01) // cipher suites
	body = append(body, 0x01, 0x00)             // compression methods
	body = append(body, byte(len(ext)>>8), byte(len(ext)))
	body = append(body, ext...)

	handshake := append([]byte{0x01, byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body))}, body...)
	record := append([]byte{0x16, 0x03, 0x01, byte(len(handshake) >> 8), byte(len(handshake))}, handshake...)
	return record
}
