// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernel

import (
	"context"
	"sync"

	"grimm.is/segsplit/internal/packet"
)

// SimKernel is an in-memory Interceptor for non-Linux hosts and for unit
// tests: Next replays a preloaded queue of packets instead of reading
// from NFQUEUE, and Send/Drop record what the loop did with each one so
// tests can assert on it.
type SimKernel struct {
	mu sync.Mutex

	filter Filter
	opened bool

	queue []*packet.Packet

	Sent    []*packet.Packet
	Dropped []*packet.Packet
}

// NewSimKernel creates a simulation kernel preloaded with frames, in
// capture order.
func NewSimKernel(frames ...*packet.Packet) *SimKernel {
	return &SimKernel{queue: frames}
}

// Enqueue appends more frames to be returned by Next, for tests that
// drive the loop incrementally.
func (s *SimKernel) Enqueue(p *packet.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, p)
}

func (s *SimKernel) Open(filter Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = filter
	s.opened = true
	return nil
}

// Next returns the next queued packet, or blocks until ctx is canceled
// once the queue is drained (mirroring the real handle's blocking read).
func (s *SimKernel) Next(ctx context.Context) (*packet.Packet, error) {
	s.mu.Lock()
	if len(s.queue) > 0 {
		p := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *SimKernel) Send(p *packet.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sent = append(s.Sent, p)
	return nil
}

func (s *SimKernel) Drop(p *packet.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Dropped = append(s.Dropped, p)
	return nil
}

func (s *SimKernel) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}

// Filter returns the filter Open was called with, for assertions.
func (s *SimKernel) Filter() Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}
