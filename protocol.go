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

package bigmap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bigmap/internal/telemetry"
	"bigmap/internal/wire"
	"bigmap/pkg/transport"
)

// trunk is the flow-control round. Every other rank is told how many
// increments this rank has sent it so far, then incoming traffic is applied
// until each peer has either announced a trunk of its own that has fully
// arrived or has finished the episode. Only then are the slots reused.
func (m *Map[K, V]) trunk(ctx context.Context) error {
	start := time.Now()
	unacked := m.pendingSends()
	m.announce(wire.TrunkFinish)

	done := make([]bool, m.g.Size())
	done[m.self] = true
	for !m.trunkSettled(done) {
		if err := m.receive(ctx); err != nil {
			return err
		}
	}
	if err := m.releaseSlots(ctx); err != nil {
		return err
	}
	d := time.Since(start)
	telemetry.ObserveWait(telemetry.PhaseTrunk, d)
	m.log.Debug("trunk drained", zap.Duration("wait", d), zap.Int("unacked_at_start", unacked))
	return nil
}

// trunkSettled marks peers whose traffic for this round has arrived. A trunk
// announcement is consumed when it settles a peer, so one arriving later in
// the same round is kept for the next.
func (m *Map[K, V]) trunkSettled(done []bool) bool {
	all := true
	for p := range done {
		if done[p] {
			continue
		}
		switch {
		case m.finishTotal[p] != unknown:
			done[p] = m.received[p] == m.finishTotal[p]
		case m.trunkTotals[p] != unknown && m.received[p] >= m.trunkTotals[p]:
			done[p] = true
			m.trunkTotals[p] = unknown
		}
		all = all && done[p]
	}
	return all
}

// CompleteAsyncIncs ends the episode. It returns on every rank only after
// every increment issued anywhere in the group has been applied at its owner.
// Counters are reset so the Map can run another episode. It is a collective call.
func (m *Map[K, V]) CompleteAsyncIncs(ctx context.Context) error {
	start := time.Now()
	m.announce(wire.Finish)

	for !m.finished() {
		if err := m.receive(ctx); err != nil {
			return err
		}
	}
	if err := m.releaseSlots(ctx); err != nil {
		return err
	}
	m.resetCounters()
	if err := m.g.Barrier(ctx); err != nil {
		return fmt.Errorf("bigmap: completion barrier: %w", err)
	}
	d := time.Since(start)
	telemetry.ObserveWait(telemetry.PhaseCompletion, d)
	m.log.Debug("episode complete", zap.Duration("wait", d), zap.Int("keys", m.local.Len()))
	return nil
}

func (m *Map[K, V]) finished() bool {
	for p := range m.finishTotal {
		if p == m.self {
			continue
		}
		if m.finishTotal[p] == unknown || m.received[p] != m.finishTotal[p] {
			return false
		}
	}
	return true
}

// receive blocks for one accumulator message and applies it.
func (m *Map[K, V]) receive(ctx context.Context) error {
	msg, err := m.t.Recv(ctx, transport.Data)
	if err != nil {
		return fmt.Errorf("bigmap: receive: %w", err)
	}
	return m.dispatch(msg)
}

func (m *Map[K, V]) dispatch(msg transport.Message) error {
	from, tag := msg.From, wire.Tag(msg.Tag)
	if !transport.ValidPeer(m.t, from) || from == m.self {
		return m.violation("%s from invalid source %d", tag, from)
	}

	switch tag {
	case wire.KV:
		if m.finishTotal[from] != unknown && m.received[from] >= m.finishTotal[from] {
			return m.violation("rank %d sent more than its announced %d increments", from, m.finishTotal[from])
		}
		key, value, err := m.codec.DecodeKV(msg.Payload)
		if err != nil {
			return m.violation("rank %d: %v", from, err)
		}
		m.local.Add(key, value)
		m.received[from]++
		telemetry.ObserveRemoteApply()

	case wire.TrunkFinish:
		n, err := wire.DecodeCount(msg.Payload)
		if err != nil {
			return m.violation("rank %d: %v", from, err)
		}
		if m.finishTotal[from] != unknown {
			return m.violation("rank %d announced a trunk after finishing", from)
		}
		if n < m.received[from] || n == unknown {
			return m.violation("rank %d announced a trunk of %d increments but %d arrived", from, n, m.received[from])
		}
		m.trunkTotals[from] = n
		telemetry.ObserveAnnouncement(telemetry.KindTrunk)

	case wire.Finish:
		n, err := wire.DecodeCount(msg.Payload)
		if err != nil {
			return m.violation("rank %d: %v", from, err)
		}
		if m.finishTotal[from] != unknown {
			return m.violation("rank %d finished twice", from)
		}
		if n < m.received[from] || n == unknown {
			return m.violation("rank %d announced %d increments but %d arrived", from, n, m.received[from])
		}
		m.finishTotal[from] = n
		telemetry.ObserveAnnouncement(telemetry.KindFinish)

	default:
		return m.violation("unexpected %s from rank %d", tag, from)
	}
	return nil
}
