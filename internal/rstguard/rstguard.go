// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rstguard drops forged inbound TCP RST segments, the common DPI
// side-channel for tearing down a classified flow once recognized.
package rstguard

import (
	"grimm.is/segsplit/internal/metrics"
	"grimm.is/segsplit/internal/packet"
)

// TargetPorts are the known target-service ports a forged RST is
// expected to arrive "from".
var TargetPorts = map[uint16]struct{}{
	443:  {},
	80:   {},
	8080: {},
	8443: {},
}

// Guard drops forged inbound RST segments for the configured target
// ports.
type Guard struct {
	stats *metrics.Statistics
}

// New builds a Guard that increments rst_blocked on stats when it drops.
func New(stats *metrics.Statistics) *Guard {
	return &Guard{stats: stats}
}

// ShouldDrop returns true if p is an inbound TCP RST whose source port is
// a known target-service port. Any non-RST packet and any outbound RST
// always return false.
func (g *Guard) ShouldDrop(p *packet.Packet) bool {
	if p.Protocol != packet.ProtoTCP || p.TCP == nil {
		return false
	}
	if !p.TCP.RST {
		return false
	}
	if p.Direction != packet.Inbound {
		return false
	}
	if _, ok := TargetPorts[p.TCP.SrcPort]; !ok {
		return false
	}

	g.stats.RSTBlocked.Inc()
	return true
}
