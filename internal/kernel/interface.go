// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package kernel provides an abstraction over the host's packet-divert
// facility: on Linux it wraps NFQUEUE via go-nfqueue and installs the
// steering rule via google/nftables; off Linux (and in tests) it
// provides an in-memory replay implementation.
package kernel

import (
	"context"

	"grimm.is/segsplit/internal/packet"
)

// Filter is the BPF-like capture filter: TCP and UDP destination ports
// to divert to userspace.
type Filter struct {
	TCPPorts []uint16
	UDPPorts []uint16
}

// DefaultFilter is the capture filter grammar: the target service's TCP
// ports plus its UDP signaling/media ports.
func DefaultFilter() Filter {
	return Filter{
		TCPPorts: []uint16{443, 80, 8080, 8443},
		UDPPorts: []uint16{3478, 5349, 9350, 10000, 10001, 10002, 10003},
	}
}

// Interceptor abstracts the kernel intercept collaborator: open(filter)
// -> Handle, iterate(Handle) -> stream of PacketHandle, send/drop.
// Components interact with this interface instead of making direct
// syscalls, so the intercept loop can run unmodified against a real
// NFQUEUE handle or an in-memory replay handle.
type Interceptor interface {
	// Open acquires the kernel intercept handle with the given capture
	// filter. Failure here is a DriverError: fatal, the loop never
	// starts.
	Open(filter Filter) error

	// Next blocks until the next packet is available, or ctx is
	// canceled. Failure here is also a DriverError.
	Next(ctx context.Context) (*packet.Packet, error)

	// Send re-injects p, which must have been obtained from Next and may
	// have been mutated in place. Checksums must already be recomputed.
	Send(p *packet.Packet) error

	// Drop discards p without re-injecting it.
	Drop(p *packet.Packet) error

	// Close releases the handle. Safe to call multiple times.
	Close() error
}
