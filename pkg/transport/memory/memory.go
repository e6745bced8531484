// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package memory implements transport.Transport inside a single process so a
// whole group can be simulated by goroutines. Mailboxes are unbounded FIFOs,
// which makes every Send complete immediately, like a buffered MPI send.
package memory

import (
	"context"
	"fmt"
	"sync"

	"bigmap/pkg/transport"
)

type mailbox struct {
	mu     sync.Mutex
	queue  []transport.Message
	ready  chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (b *mailbox) push(m transport.Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return transport.ErrClosed
	}
	b.queue = append(b.queue, m)
	b.mu.Unlock()
	select {
	case b.ready <- struct{}{}:
	default:
	}
	return nil
}

func (b *mailbox) pop(ctx context.Context) (transport.Message, error) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			m := b.queue[0]
			b.queue[0] = transport.Message{}
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return m, nil
		}
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return transport.Message{}, transport.ErrClosed
		}
		select {
		case <-b.ready:
		case <-ctx.Done():
			return transport.Message{}, ctx.Err()
		}
	}
}

func (b *mailbox) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *mailbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Hub owns the mailboxes of every simulated process.
type Hub struct {
	size  int
	boxes [][transport.NumChannels]*mailbox
}

// NewHub creates a hub for a group of size endpoints.
func NewHub(size int) *Hub {
	if size <= 0 {
		panic(fmt.Sprintf("memory: invalid group size %d", size))
	}
	h := &Hub{size: size, boxes: make([][transport.NumChannels]*mailbox, size)}
	for r := range h.boxes {
		for c := range h.boxes[r] {
			h.boxes[r][c] = newMailbox()
		}
	}
	return h
}

// Size is the number of endpoints on the hub.
func (h *Hub) Size() int { return h.size }

// Endpoint returns the transport for rank.
func (h *Hub) Endpoint(rank int) *Endpoint {
	if rank < 0 || rank >= h.size {
		panic(fmt.Sprintf("memory: rank %d out of range [0,%d)", rank, h.size))
	}
	return &Endpoint{hub: h, rank: rank}
}

// Pending reports how many messages wait in rank's inbox on ch.
func (h *Hub) Pending(rank int, ch transport.Channel) int {
	return h.boxes[rank][ch].len()
}

// Close closes every mailbox.
func (h *Hub) Close() {
	for r := range h.boxes {
		for _, b := range h.boxes[r] {
			b.close()
		}
	}
}

// Endpoint is one rank's view of a Hub.
type Endpoint struct {
	hub  *Hub
	rank int
}

var _ transport.Transport = (*Endpoint)(nil)

func (e *Endpoint) Rank() int { return e.rank }

func (e *Endpoint) Size() int { return e.hub.size }

// Send copies payload into the destination mailbox and returns a completed request.
func (e *Endpoint) Send(to int, ch transport.Channel, tag uint8, payload []byte) *transport.Request {
	if !transport.ValidPeer(e, to) {
		return transport.Completed(fmt.Errorf("memory: send to rank %d out of range", to))
	}
	if int(ch) >= transport.NumChannels {
		return transport.Completed(fmt.Errorf("memory: unknown %s", ch))
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	err := e.hub.boxes[to][ch].push(transport.Message{From: e.rank, Tag: tag, Payload: buf})
	return transport.Completed(err)
}

func (e *Endpoint) Recv(ctx context.Context, ch transport.Channel) (transport.Message, error) {
	if int(ch) >= transport.NumChannels {
		return transport.Message{}, fmt.Errorf("memory: unknown %s", ch)
	}
	return e.hub.boxes[e.rank][ch].pop(ctx)
}

// Close closes this endpoint's own inboxes.
func (e *Endpoint) Close() error {
	for _, b := range e.hub.boxes[e.rank] {
		b.close()
	}
	return nil
}
