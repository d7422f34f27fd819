// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package packet implements the Packet handle: a captured frame's
// IPv4/TCP/UDP fields, with an in-place rewrite + checksum recompute
// operation that the splitter and the kernel collaborator both depend
// on. It is the shared data model leaf that the kernel, splitter,
// classifier, and RST guard all build on.
package packet

import (
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"grimm.is/segsplit/internal/errors"
)

// Direction records whether a frame was captured leaving (Outbound) or
// arriving at (Inbound) the host.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

// Protocol is the transport-layer protocol of a captured frame.
type Protocol int

const (
	ProtoOther Protocol = iota
	ProtoTCP
	ProtoUDP
)

// TCP holds the mutable TCP header fields and payload of a captured
// segment. Splitting a segment mutates Seq, PSH, and Payload in place.
type TCP struct {
	SrcPort, DstPort        uint16
	Seq, Ack                uint32
	SYN, ACK, PSH, RST, FIN bool
	Window                  uint16
	Payload                 []byte
}

// UDP holds the read-only fields observed for a UDP datagram. UDP is
// pass-through in this system; nothing mutates it.
type UDP struct {
	SrcPort, DstPort uint16
	Payload          []byte
}

// Packet is one captured frame, borrowed from the kernel intercept
// collaborator for the duration of one loop iteration. It must not
// outlive the iteration: it is released by Send or Drop.
type Packet struct {
	Direction Direction
	SrcIP     net.IP
	DstIP     net.IP
	Protocol  Protocol
	TCP       *TCP
	UDP       *UDP

	decoded gopacket.Packet
}

// Decode parses a raw IPv4 frame (as delivered by the kernel intercept
// collaborator) into a Packet. A frame whose IPv4 header, or whose TCP
// or UDP header, fails to decode is an error. An IPv4 frame carrying any
// other transport protocol decodes with Protocol ProtoOther and its
// SrcIP/DstIP set; callers should pass those straight through.
func Decode(raw []byte, dir Direction) (*Packet, error) {
	parsed := gopacket.NewPacket(raw, layers.LayerTypeIPv4, gopacket.NoCopy)
	if errLayer := parsed.ErrorLayer(); errLayer != nil {
		ip4, ok := parsed.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		if !ok || ip4.Protocol == layers.IPProtocolTCP || ip4.Protocol == layers.IPProtocolUDP {
			return nil, errors.Wrap(errLayer.Error(), errors.KindDriver, "packet: decode failed")
		}
	}

	p := &Packet{Direction: dir, decoded: parsed}

	ip4, ok := parsed.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		return p, nil
	}
	p.SrcIP = ip4.SrcIP
	p.DstIP = ip4.DstIP

	if tcp, ok := parsed.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
		p.Protocol = ProtoTCP
		p.TCP = &TCP{
			SrcPort: uint16(tcp.SrcPort),
			DstPort: uint16(tcp.DstPort),
			Seq:     tcp.Seq,
			Ack:     tcp.Ack,
			SYN:     tcp.SYN,
			ACK:     tcp.ACK,
			PSH:     tcp.PSH,
			RST:     tcp.RST,
			FIN:     tcp.FIN,
			Window:  tcp.Window,
			Payload: append([]byte(nil), tcp.Payload...),
		}
		return p, nil
	}

	if udp, ok := parsed.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		p.Protocol = ProtoUDP
		p.UDP = &UDP{
			SrcPort: uint16(udp.SrcPort),
			DstPort: uint16(udp.DstPort),
			Payload: append([]byte(nil), udp.Payload...),
		}
	}

	return p, nil
}

// Rebuild serializes the current (possibly mutated) IPv4/TCP fields back
// into wire bytes, recomputing the IPv4 and TCP checksums and the IPv4
// total length. It must be called after any mutation and before Send,
// since the kernel collaborator reuses the same handle for every emitted
// segment rather than cloning it.
func (p *Packet) Rebuild() ([]byte, error) {
	if p.decoded == nil {
		return nil, errors.New(errors.KindSplit, "packet: no decoded frame to rebuild from")
	}

	ip4l := p.decoded.Layer(layers.LayerTypeIPv4)
	ip4, ok := ip4l.(*layers.IPv4)
	if !ok {
		return nil, errors.New(errors.KindSplit, "packet: missing IPv4 layer")
	}
	ip4.SrcIP = p.SrcIP
	ip4.DstIP = p.DstIP

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	if p.TCP != nil {
		tcpl, ok := p.decoded.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if !ok {
			return nil, errors.New(errors.KindSplit, "packet: missing TCP layer")
		}
		tcpl.SrcPort = layers.TCPPort(p.TCP.SrcPort)
		tcpl.DstPort = layers.TCPPort(p.TCP.DstPort)
		tcpl.Seq = p.TCP.Seq
		tcpl.Ack = p.TCP.Ack
		tcpl.SYN = p.TCP.SYN
		tcpl.ACK = p.TCP.ACK
		tcpl.PSH = p.TCP.PSH
		tcpl.RST = p.TCP.RST
		tcpl.FIN = p.TCP.FIN
		tcpl.Window = p.TCP.Window
		tcpl.Payload = p.TCP.Payload

		if err := tcpl.SetNetworkLayerForChecksum(ip4); err != nil {
			return nil, errors.Wrap(err, errors.KindSplit, "packet: set checksum network layer")
		}

		if err := gopacket.SerializeLayers(buf, opts, ip4, tcpl, gopacket.Payload(p.TCP.Payload)); err != nil {
			return nil, errors.Wrap(err, errors.KindSplit, "packet: serialize failed")
		}
		return buf.Bytes(), nil
	}

	if p.UDP != nil {
		udpl, ok := p.decoded.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok {
			return nil, errors.New(errors.KindSplit, "packet: missing UDP layer")
		}
		if err := udpl.SetNetworkLayerForChecksum(ip4); err != nil {
			return nil, errors.Wrap(err, errors.KindSplit, "packet: set checksum network layer")
		}
		if err := gopacket.SerializeLayers(buf, opts, ip4, udpl, gopacket.Payload(p.UDP.Payload)); err != nil {
			return nil, errors.Wrap(err, errors.KindSplit, "packet: serialize failed")
		}
		return buf.Bytes(), nil
	}

	if err := gopacket.SerializeLayers(buf, opts, ip4, gopacket.Payload(ip4.Payload)); err != nil {
		return nil, errors.Wrap(err, errors.KindSplit, "packet: serialize failed")
	}
	return buf.Bytes(), nil
}
