// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package splitter implements the core segment-rewrite engine: given one
// payload-bearing TCP segment, it emits two back-to-back segments whose
// payloads concatenate to the original, with a short pause between them,
// breaking contiguous inspection of the leading bytes (e.g. a TLS
// ClientHello's SNI extension).
package splitter

import (
	"time"

	"grimm.is/segsplit/internal/clock"
	"grimm.is/segsplit/internal/errors"
	"grimm.is/segsplit/internal/logging"
	"grimm.is/segsplit/internal/metrics"
	"grimm.is/segsplit/internal/packet"
)

// Sender re-injects a mutated packet handle. Implemented by the kernel
// collaborator. The same handle is reused for every emitted segment;
// Send must recompute checksums before transmitting.
type Sender interface {
	Send(p *packet.Packet) error
}

// Strategy picks the (k, d) split parameters for a given payload size,
// collapsing fixed and adaptive splitting behind one entry point.
type Strategy interface {
	Params(payloadLen int) (k int, d float64)
}

// Fixed is a constant-parameter strategy: the same (k, d) regardless of
// payload size, driven by --fragment-size/--delay-ms.
type Fixed struct {
	K int
	D float64
}

func (f Fixed) Params(int) (int, float64) { return f.K, f.D }

// Adaptive buckets payload size into four classes, each with its own
// (k, d) pair tuned for that size range.
type Adaptive struct{}

func (Adaptive) Params(payloadLen int) (int, float64) {
	switch {
	case payloadLen < 1024:
		return 1, 10.0
	case payloadLen < 50*1024:
		return 8, 5.0
	case payloadLen < 500*1024:
		return 100, 2.0
	default:
		return 500, 1.0
	}
}

// SizeBucket classifies a payload length for the Statistics record.
func SizeBucket(n int) metrics.SizeBucket {
	switch {
	case n < 1024:
		return metrics.BucketSmall
	case n < 50*1024:
		return metrics.BucketMedium
	case n < 500*1024:
		return metrics.BucketLarge
	default:
		return metrics.BucketHuge
	}
}

// Splitter rewrites one TCP segment into two and re-injects both.
type Splitter struct {
	sender   Sender
	strategy Strategy
	clock    clock.Clock
	stats    *metrics.Statistics
	log      *logging.Logger
}

// New builds a Splitter that re-injects through sender, picks parameters
// via strategy, and sleeps the inter-segment delay through clk.
func New(sender Sender, strategy Strategy, clk clock.Clock, stats *metrics.Statistics) *Splitter {
	if clk == nil {
		clk = clock.Default
	}
	return &Splitter{
		sender:   sender,
		strategy: strategy,
		clock:    clk,
		stats:    stats,
		log:      logging.WithComponent("splitter"),
	}
}

// Process splits p's payload into two segments when it's longer than
// the chosen k, or passes it through unchanged when it isn't. On a split
// failure it best-effort re-injects the original packet unchanged,
// counts an error, and returns nil when that re-injection succeeds. It
// returns a KindSplit error only when the pass-through or fallback send
// itself fails, and a KindValidation error when p has no TCP layer.
func (s *Splitter) Process(p *packet.Packet) error {
	if p.TCP == nil {
		return errors.New(errors.KindValidation, "splitter: packet has no TCP layer")
	}

	payload := p.TCP.Payload
	k, d := s.strategy.Params(len(payload))

	if len(payload) <= k {
		if err := s.sender.Send(p); err != nil {
			s.stats.Splitter.Errors.Inc()
			return errors.Wrap(err, errors.KindSplit, "splitter: pass-through send failed")
		}
		s.stats.Splitter.Passed.Inc()
		return nil
	}

	if err := s.split(p, k, d); err != nil {
		s.log.Warn("split failed, falling back to pass-through", "err", err)
		s.stats.Splitter.Errors.Inc()
		if sendErr := s.sender.Send(p); sendErr != nil {
			return errors.Wrap(sendErr, errors.KindSplit, "splitter: fallback send failed")
		}
		return nil
	}

	s.stats.Splitter.Fragmented.Inc()
	s.stats.Splitter.SizeBucket(SizeBucket(len(payload))).Inc()
	return nil
}

// split carries out the three-step rewrite: emit segment 1 (head, PSH
// cleared), sleep d, emit segment 2 (tail, seq advanced by len(head),
// PSH restored).
func (s *Splitter) split(p *packet.Packet, k int, d float64) error {
	original := p.TCP.Payload
	seq0 := p.TCP.Seq
	originalPSH := p.TCP.PSH

	head := original[:k]
	tail := original[k:]

	p.TCP.Payload = head
	p.TCP.PSH = false
	if err := s.sender.Send(p); err != nil {
		p.TCP.Payload = original
		p.TCP.PSH = originalPSH
		return errors.Wrap(err, errors.KindSplit, "splitter: segment 1 send failed")
	}

	if d > 0 {
		s.clock.Sleep(time.Duration(d * float64(time.Millisecond)))
	}

	p.TCP.Seq = addSeq(seq0, k)
	p.TCP.Payload = tail
	// Preserve the original PSH value rather than forcing it, except
	// that any segment carrying user data gets PSH set so the receiver
	// flushes promptly.
	p.TCP.PSH = originalPSH || len(tail) > 0
	if err := s.sender.Send(p); err != nil {
		p.TCP.Seq = seq0
		p.TCP.Payload = original
		p.TCP.PSH = originalPSH
		return errors.Wrap(err, errors.KindSplit, "splitter: segment 2 send failed")
	}

	return nil
}

// addSeq performs wrap-aware 32-bit modular sequence-number addition.
// Go's unsigned overflow already wraps at 2^32, which is exactly the
// modular arithmetic TCP sequence numbers require.
func addSeq(seq uint32, n int) uint32 {
	return seq + uint32(n)
}
