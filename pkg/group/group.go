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

// Package group carries the identity of one process inside a cooperating group
// (its rank, the group size and its host name) together with the transport it
// talks through. Collectives run on the transport's control channel with rank 0
// acting as gather/scatter root, so every member must call them in the same order.
package group

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"bigmap/pkg/transport"
)

// ErrUnexpectedMessage is returned when a collective receives a message it cannot place.
var ErrUnexpectedMessage = errors.New("group: unexpected control message")

// control tags
const (
	tagGather uint8 = iota + 1
	tagScatter
)

// Group is the explicit process context handed to every distributed component.
type Group struct {
	t    transport.Transport
	host string
}

// New binds a transport endpoint to the host name this process runs on.
func New(t transport.Transport, host string) (*Group, error) {
	if t == nil {
		return nil, errors.New("group: nil transport")
	}
	if t.Size() <= 0 || t.Rank() < 0 || t.Rank() >= t.Size() {
		return nil, fmt.Errorf("group: invalid rank %d for size %d", t.Rank(), t.Size())
	}
	if host == "" {
		host = "localhost"
	}
	return &Group{t: t, host: host}, nil
}

func (g *Group) Self() int { return g.t.Rank() }

func (g *Group) Size() int { return g.t.Size() }

func (g *Group) Host() string { return g.host }

func (g *Group) Transport() transport.Transport { return g.t }

// Barrier returns once every member has entered it.
func (g *Group) Barrier(ctx context.Context) error {
	_, err := g.AllReduceSum(ctx, 0)
	if err != nil {
		return fmt.Errorf("barrier: %w", err)
	}
	return nil
}

// AllReduceSum returns the sum of v over all members, on every member.
func (g *Group) AllReduceSum(ctx context.Context, v uint64) (uint64, error) {
	if g.Size() == 1 {
		return v, nil
	}
	if g.Self() != 0 {
		req := g.t.Send(0, transport.Control, tagGather, encode(v))
		total, err := g.expect(ctx, tagScatter, 0)
		if err != nil {
			return 0, err
		}
		if err := req.Wait(ctx); err != nil {
			return 0, err
		}
		return total, nil
	}

	total := v
	for seen := 1; seen < g.Size(); seen++ {
		part, err := g.expect(ctx, tagGather, -1)
		if err != nil {
			return 0, err
		}
		total += part
	}
	reqs := make([]*transport.Request, 0, g.Size()-1)
	payload := encode(total)
	for r := 1; r < g.Size(); r++ {
		reqs = append(reqs, g.t.Send(r, transport.Control, tagScatter, payload))
	}
	if err := transport.WaitAll(ctx, reqs); err != nil {
		return 0, err
	}
	return total, nil
}

// expect receives one control message with the given tag, optionally from a fixed source.
func (g *Group) expect(ctx context.Context, tag uint8, from int) (uint64, error) {
	m, err := g.t.Recv(ctx, transport.Control)
	if err != nil {
		return 0, err
	}
	if m.Tag != tag || (from >= 0 && m.From != from) || len(m.Payload) != 8 {
		return 0, fmt.Errorf("%w: tag=%d from=%d len=%d", ErrUnexpectedMessage, m.Tag, m.From, len(m.Payload))
	}
	return binary.BigEndian.Uint64(m.Payload), nil
}

func encode(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}
