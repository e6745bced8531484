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

// Package bigmap provides a distributed accumulator: a key → value map sharded
// across a group of cooperating processes, where any process may add to any
// key without waiting for delivery.
//
// Keys are routed to an owning process through a partition table whose bucket
// shares follow per-host capacity hints. Increments to remote keys are batched
// through a fixed pool of outgoing slots; when the pool fills, a flow-control
// round ("trunk") drains everything in flight before more is sent. A final
// completion round guarantees that every increment issued anywhere in the
// group has been applied exactly once before any process reads its shard.
//
// A Map is driven by a single goroutine per process and is not safe for
// concurrent use. All collective operations (New, Reserve, CompleteAsyncIncs,
// Size, BucketCount) must be called by every process in the same order.
package bigmap

import (
	"context"
	"fmt"
	"math"
	"math/bits"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"

	"bigmap/internal/hashing"
	"bigmap/internal/partition"
	"bigmap/internal/shard"
	"bigmap/internal/telemetry"
	"bigmap/internal/wire"
	"bigmap/pkg/group"
	"bigmap/pkg/transport"
)

// Number is any value type that combines by addition.
type Number = shard.Number

// Entry is a (key, value) pair. The skeleton passed to New is an Entry whose
// encoded size pre-sizes the outgoing slot buffers.
//
// Keys travel to their owner as msgpack. Struct keys need exported fields, or
// the key type must implement msgpack.CustomEncoder and msgpack.CustomDecoder.
// New rejects key types that would lose data on the way.
type Entry[K comparable, V Number] = wire.Entry[K, V]

const (
	// unknown marks a peer total that has not been announced yet.
	unknown = math.MaxUint64

	// MaxLocalReserve caps the number of entries Reserve pre-sizes a shard for.
	MaxLocalReserve = math.MaxInt32
)

// Map is one process's handle on the distributed accumulator.
type Map[K comparable, V Number] struct {
	g       *group.Group
	t       transport.Transport
	self    int
	log     *zap.Logger
	onFatal func(error)

	table *partition.Table
	hash  func(K) uint64
	codec *wire.Codec[K, V]
	local *shard.Shard[K, V]

	// outgoing slot pool and the handles of sends issued from it
	slots [][]byte
	used  int
	reqs  []*transport.Request

	sent        []uint64
	received    []uint64
	trunkTotals []uint64
	finishTotal []uint64
}

// New builds the partition table from the group's host names and capacity
// hints, sizes the outgoing buffers from skeleton and waits for every process
// to do the same. It is a collective call.
func New[K comparable, V Number](ctx context.Context, g *group.Group, skeleton Entry[K, V], opts Options[K]) (*Map[K, V], error) {
	if g == nil {
		return nil, fmt.Errorf("bigmap: nil group")
	}
	opts = opts.withDefaults()
	n := g.Size()

	codec, err := wire.NewCodec(skeleton)
	if err != nil {
		return nil, fmt.Errorf("bigmap: %w", err)
	}
	if err := checkKey(codec, skeleton, opts.KeyHash == nil && opts.KeyPart == nil); err != nil {
		return nil, fmt.Errorf("bigmap: %w", err)
	}
	hash := opts.KeyHash
	if hash == nil {
		fn, err := hashing.ByName(opts.Hash)
		if err != nil {
			return nil, fmt.Errorf("bigmap: %w", err)
		}
		hash = hashing.Keyed(fn, opts.KeyPart)
	}

	m := &Map[K, V]{
		g:       g,
		t:       g.Transport(),
		self:    g.Self(),
		log:     opts.Logger.With(zap.Int("rank", g.Self())),
		onFatal: opts.OnFatal,
		hash:    hash,
		codec:   codec,
		local:   shard.New[K, V](),
	}
	bufSize := bufferSize(opts.TotalBuffer, opts.MinBuffer, n)
	m.slots = make([][]byte, bufSize)
	for i := range m.slots {
		m.slots[i] = make([]byte, 0, codec.Footprint())
	}
	m.reqs = make([]*transport.Request, 0, bufSize+n)
	m.resetCounters()

	start := time.Now()
	if err := m.buildTable(ctx, opts); err != nil {
		return nil, err
	}
	if err := g.Barrier(ctx); err != nil {
		return nil, fmt.Errorf("bigmap: construction barrier: %w", err)
	}
	telemetry.ObserveWait(telemetry.PhaseSetup, time.Since(start))
	return m, nil
}

// checkKey rejects key types that would reach their owner as a different key,
// or that the default hash could route apart while Go compares them equal.
func checkKey[K comparable, V Number](codec *wire.Codec[K, V], skeleton Entry[K, V], defaultHash bool) error {
	kt := reflect.TypeFor[K]()
	if err := wire.CheckKeyType(kt); err != nil {
		return err
	}
	if defaultHash {
		if err := hashing.CheckKeyType(kt); err != nil {
			return err
		}
	}
	b, err := codec.AppendKV(nil, skeleton.Key, skeleton.Value)
	if err != nil {
		return err
	}
	key, _, err := codec.DecodeKV(b)
	if err != nil {
		return err
	}
	// A NaN key never equals itself, so only a key that does can be compared.
	if self := skeleton.Key; self == self && key != self {
		return fmt.Errorf("%w: skeleton key %v decodes as %v", wire.ErrKeyType, self, key)
	}
	return nil
}

// buildTable exchanges host names with every process (itself included) and
// lays out the partition table.
func (m *Map[K, V]) buildTable(ctx context.Context, opts Options[K]) error {
	hints := partition.Hints(opts.Hints)
	if hints == nil {
		loaded, err := partition.LoadHints(opts.HintsPath)
		if err != nil {
			m.log.Warn("capacity hints unavailable, using default weights",
				zap.String("path", opts.HintsPath), zap.Error(err))
		}
		hints = loaded
	} else {
		lowered := make(partition.Hints, len(hints))
		for h, w := range hints {
			lowered[strings.ToLower(h)] = w
		}
		hints = lowered
	}

	n := m.g.Size()
	payload := wire.EncodeNodeInfo(m.g.Host())
	reqs := make([]*transport.Request, 0, n)
	for r := 0; r < n; r++ {
		reqs = append(reqs, m.t.Send(r, transport.Data, uint8(wire.NodeInfo), payload))
	}

	hosts := make([]string, n)
	for got := 0; got < n; got++ {
		msg, err := m.t.Recv(ctx, transport.Data)
		if err != nil {
			return fmt.Errorf("bigmap: receive host names: %w", err)
		}
		if wire.Tag(msg.Tag) != wire.NodeInfo || !transport.ValidPeer(m.t, msg.From) || hosts[msg.From] != "" {
			return m.violation("unexpected %s from rank %d during host exchange", wire.Tag(msg.Tag), msg.From)
		}
		host, err := wire.DecodeNodeInfo(msg.Payload)
		if err != nil {
			return m.violation("rank %d: %v", msg.From, err)
		}
		hosts[msg.From] = host
	}
	if err := transport.WaitAll(ctx, reqs); err != nil {
		return fmt.Errorf("bigmap: send host name: %w", err)
	}

	table, err := partition.Build(hosts, hints)
	if err != nil {
		return fmt.Errorf("bigmap: %w", err)
	}
	m.table = table
	if starved := table.Starved(); len(starved) > 0 && m.self == 0 {
		names := make([]string, len(starved))
		for i, r := range starved {
			names[i] = table.Host(r)
		}
		m.log.Warn("processes own no buckets; their capacity weight is too small",
			zap.Ints("ranks", starved), zap.Strings("hosts", names))
	}
	m.log.Info(fmt.Sprintf("Proc #%d (on %s) stores: %.3f %%", m.self, m.g.Host(), table.Fraction(m.self)),
		zap.Uint64("buckets", table.Share(m.self)),
		zap.Uint64("total_buckets", table.Buckets()),
		zap.Int("slots", len(m.slots)))
	return nil
}

// Reserve sizes the local shard for this process's portion of n entries
// across the group, n × share / buckets + 1, then waits for every process to
// do the same. The local reservation is capped at MaxLocalReserve; the shard
// still grows past it on demand.
func (m *Map[K, V]) Reserve(ctx context.Context, n uint64) error {
	m.local.Reserve(localReservation(n, m.table.Share(m.self), m.table.Buckets()))
	if err := m.g.Barrier(ctx); err != nil {
		return fmt.Errorf("bigmap: reserve barrier: %w", err)
	}
	return nil
}

func localReservation(n, share, buckets uint64) int {
	hi, lo := bits.Mul64(n, share)
	if hi >= buckets {
		return MaxLocalReserve
	}
	q, _ := bits.Div64(hi, lo, buckets)
	if q >= MaxLocalReserve {
		return MaxLocalReserve
	}
	return int(q) + 1
}

// Target returns the rank owning key. It is the same on every process.
func (m *Map[K, V]) Target(key K) int {
	return m.table.Owner(m.hash(key))
}

// LocalMap is this process's shard. It is complete only after
// CompleteAsyncIncs and must not be modified.
func (m *Map[K, V]) LocalMap() map[K]V { return m.local.View() }

// BufferSize is the number of outgoing slots in the pool.
func (m *Map[K, V]) BufferSize() int { return len(m.slots) }

// Size sums the number of keys held by every process. It is a collective call;
// before completion the result is a lower bound.
func (m *Map[K, V]) Size(ctx context.Context) (uint64, error) {
	return m.g.AllReduceSum(ctx, uint64(m.local.Len()))
}

// BucketCount sums the allocated shard capacity of every process. It is a collective call.
func (m *Map[K, V]) BucketCount(ctx context.Context) (uint64, error) {
	return m.g.AllReduceSum(ctx, uint64(m.local.Capacity()))
}

// Reset clears the local shard and the episode counters. The partition table
// and slot pool are kept. Call it only between episodes.
func (m *Map[K, V]) Reset() {
	m.local.Clear()
	m.resetCounters()
}

func (m *Map[K, V]) resetCounters() {
	n := m.g.Size()
	if len(m.sent) != n {
		m.sent = make([]uint64, n)
		m.received = make([]uint64, n)
		m.trunkTotals = make([]uint64, n)
		m.finishTotal = make([]uint64, n)
	}
	for i := 0; i < n; i++ {
		m.sent[i], m.received[i] = 0, 0
		m.trunkTotals[i], m.finishTotal[i] = unknown, unknown
	}
}
