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
	"go.uber.org/zap"

	"bigmap/internal/partition"
)

const (
	// DefaultTotalBuffer is the in-flight budget shared by the whole group.
	DefaultTotalBuffer = 2000
	// DefaultMinBuffer is the floor of the per-process outgoing slot pool.
	DefaultMinBuffer = 100
)

// Options configures Map construction. The zero value is usable.
type Options[K comparable] struct {
	// TotalBuffer is divided by the group size to size each process's outgoing
	// slot pool. 0 uses DefaultTotalBuffer.
	TotalBuffer int
	// MinBuffer floors the per-process slot pool. 0 uses DefaultMinBuffer.
	MinBuffer int

	// HintsPath is the JSON capacity hint file (host → weight). Empty reads
	// partition.DefaultHintsPath. An unreadable file falls back to default weights.
	HintsPath string
	// Hints, when non-nil, is used instead of reading HintsPath.
	Hints map[string]uint64

	// Hash names the byte hash used for routing: "xxhash" (default), "xxh3" or "murmur3".
	Hash string
	// KeyPart projects a key before hashing so that several keys can be forced
	// onto the same owner. nil hashes the whole key.
	KeyPart func(K) any
	// KeyHash replaces the default routing hash entirely. It must return the
	// same value for the same key on every process.
	KeyHash func(K) uint64

	// Logger receives diagnostics. nil discards them.
	Logger *zap.Logger
	// OnFatal is invoked for unrecoverable conditions (send counter overflow,
	// protocol violations). nil logs at fatal level, which exits the process.
	// If OnFatal returns, the failing operation returns the error.
	OnFatal func(err error)
}

func (o Options[K]) withDefaults() Options[K] {
	if o.TotalBuffer <= 0 {
		o.TotalBuffer = DefaultTotalBuffer
	}
	if o.MinBuffer <= 0 {
		o.MinBuffer = DefaultMinBuffer
	}
	if o.HintsPath == "" {
		o.HintsPath = partition.DefaultHintsPath
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.OnFatal == nil {
		logger := o.Logger
		o.OnFatal = func(err error) {
			logger.Fatal("bigmap: unrecoverable error", zap.Error(err))
		}
	}
	return o
}

// bufferSize splits the total in-flight budget across the group.
func bufferSize(total, floor, groupSize int) int {
	if n := total / groupSize; n > floor {
		return n
	}
	return floor
}
