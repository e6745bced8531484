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

	"bigmap/internal/telemetry"
	"bigmap/internal/wire"
	"bigmap/pkg/transport"
)

// AsyncInc adds value to key. A locally owned key is updated immediately;
// otherwise the increment is encoded into the next free outgoing slot and sent
// to the owner without waiting. When the last slot is used, AsyncInc runs a
// flow-control round and returns once every slot is free again.
//
// The increment is only guaranteed to be visible at the owner after
// CompleteAsyncIncs returns.
func (m *Map[K, V]) AsyncInc(ctx context.Context, key K, value V) error {
	target := m.Target(key)
	if m.sent[target] >= unknown-1 {
		return m.fatal(fmt.Errorf("%w: %d increments to rank %d", ErrSendOverflow, m.sent[target], target))
	}

	if target == m.self {
		m.local.Add(key, value)
		m.sent[target]++
		telemetry.ObserveLocalApply()
		return nil
	}

	slot, err := m.codec.AppendKV(m.slots[m.used], key, value)
	if err != nil {
		return fmt.Errorf("bigmap: %w", err)
	}
	m.slots[m.used] = slot
	m.reqs = append(m.reqs, m.t.Send(target, transport.Data, uint8(wire.KV), slot))
	m.sent[target]++
	m.used++
	telemetry.ObserveRemoteSend()
	telemetry.SetSlotsInUse(m.used)

	if m.used == len(m.slots) {
		return m.trunk(ctx)
	}
	return nil
}

// announce sends the current per-peer send count under tag to every other rank.
func (m *Map[K, V]) announce(tag wire.Tag) {
	for p := 0; p < m.g.Size(); p++ {
		if p == m.self {
			continue
		}
		m.reqs = append(m.reqs, m.t.Send(p, transport.Data, uint8(tag), wire.EncodeCount(m.sent[p])))
	}
}

// pendingSends counts issued sends the transport has not completed yet.
func (m *Map[K, V]) pendingSends() int {
	n := 0
	for _, r := range m.reqs {
		if !r.Done() {
			n++
		}
	}
	return n
}

// releaseSlots waits for every outstanding send and returns the slot pool to empty.
func (m *Map[K, V]) releaseSlots(ctx context.Context) error {
	err := transport.WaitAll(ctx, m.reqs)
	clear(m.reqs)
	m.reqs = m.reqs[:0]
	m.used = 0
	telemetry.SetSlotsInUse(0)
	if err != nil {
		return fmt.Errorf("bigmap: outgoing send: %w", err)
	}
	return nil
}
