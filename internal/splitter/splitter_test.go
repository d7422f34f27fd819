// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package splitter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/segsplit/internal/clock"
	"grimm.is/segsplit/internal/metrics"
	"grimm.is/segsplit/internal/packet"
)

type recordingSender struct {
	sent []packet.Packet
}

func (r *recordingSender) Send(p *packet.Packet) error {
	r.sent = append(r.sent, *p)
	// Snapshot the TCP payload by value so later in-place mutation of p
	// doesn't retroactively change what we recorded as "sent".
	if p.TCP != nil {
		cp := *p.TCP
		cp.Payload = append([]byte(nil), p.TCP.Payload...)
		r.sent[len(r.sent)-1].TCP = &cp
	}
	return nil
}

func newTestPacket(seq uint32, payload []byte, psh bool) *packet.Packet {
	return &packet.Packet{
		Protocol: packet.ProtoTCP,
		TCP: &packet.TCP{
			SrcPort: 51234,
			DstPort: 443,
			Seq:     seq,
			Ack:     9000,
			ACK:     true,
			PSH:     psh,
			Window:  65535,
			Payload: payload,
		},
	}
}

func TestSplitter_RoundtripAndFlags(t *testing.T) {
	// Scenario 4: 1000-byte payload, seq=100, psh=true, fixed k=1, d=10ms.
	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}

	stats, _ := metrics.New()
	sender := &recordingSender{}
	clk := clock.NewMockClock(time.Unix(0, 0))
	s := New(sender, Fixed{K: 1, D: 10.0}, clk, stats)

	p := newTestPacket(100, payload, true)
	require.NoError(t, s.Process(p))

	require.Len(t, sender.sent, 2)
	s1, s2 := sender.sent[0], sender.sent[1]

	assert.Equal(t, uint32(100), s1.TCP.Seq)
	assert.False(t, s1.TCP.PSH)
	assert.Len(t, s1.TCP.Payload, 1)

	assert.Equal(t, uint32(101), s2.TCP.Seq)
	assert.True(t, s2.TCP.PSH)
	assert.Len(t, s2.TCP.Payload, 999)

	// Split roundtrip property.
	assert.Equal(t, payload, append(append([]byte(nil), s1.TCP.Payload...), s2.TCP.Payload...))
	assert.Equal(t, s2.TCP.Seq, s1.TCP.Seq+uint32(len(s1.TCP.Payload)))

	// Other header fields preserved.
	assert.Equal(t, s1.TCP.SrcPort, s2.TCP.SrcPort)
	assert.Equal(t, s1.TCP.DstPort, s2.TCP.DstPort)
	assert.Equal(t, s1.TCP.Ack, s2.TCP.Ack)
	assert.Equal(t, s1.TCP.Window, s2.TCP.Window)

	assert.Equal(t, 10*time.Millisecond, clk.TotalSleep())

	snap := stats.Snapshot()
	assert.Equal(t, float64(1), snap.Fragmented)
}

func TestSplitter_AdaptiveBucketing(t *testing.T) {
	// Scenario 5: 80000-byte payload -> k=100, d=2ms.
	payload := make([]byte, 80000)
	stats, _ := metrics.New()
	sender := &recordingSender{}
	clk := clock.NewMockClock(time.Unix(0, 0))
	s := New(sender, Adaptive{}, clk, stats)

	p := newTestPacket(0, payload, true)
	require.NoError(t, s.Process(p))

	require.Len(t, sender.sent, 2)
	assert.Len(t, sender.sent[0].TCP.Payload, 100)
	assert.Len(t, sender.sent[1].TCP.Payload, 79900)
	assert.Equal(t, 2*time.Millisecond, clk.TotalSleep())
}

func TestSplitter_PassThroughWhenShort(t *testing.T) {
	stats, _ := metrics.New()
	sender := &recordingSender{}
	clk := clock.NewMockClock(time.Unix(0, 0))
	s := New(sender, Fixed{K: 50, D: 10}, clk, stats)

	p := newTestPacket(0, []byte("short"), true)
	require.NoError(t, s.Process(p))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, []byte("short"), sender.sent[0].TCP.Payload)
	assert.Equal(t, float64(1), stats.Snapshot().Passed)
}

func TestSplitter_SetsTailPSHWhenOriginalHadNone(t *testing.T) {
	payload := make([]byte, 10)
	stats, _ := metrics.New()
	sender := &recordingSender{}
	clk := clock.NewMockClock(time.Unix(0, 0))
	s := New(sender, Fixed{K: 1, D: 0}, clk, stats)

	p := newTestPacket(0, payload, false)
	require.NoError(t, s.Process(p))

	require.Len(t, sender.sent, 2)
	assert.False(t, sender.sent[0].TCP.PSH)
	// Tail still carries user data, so PSH is set even though the
	// original segment didn't have it set (documented open-question
	// resolution in DESIGN.md).
	assert.True(t, sender.sent[1].TCP.PSH)
}

func TestSizeBucket(t *testing.T) {
	assert.Equal(t, metrics.BucketSmall, SizeBucket(100))
	assert.Equal(t, metrics.BucketMedium, SizeBucket(2000))
	assert.Equal(t, metrics.BucketLarge, SizeBucket(100000))
	assert.Equal(t, metrics.BucketHuge, SizeBucket(600000))
}
