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

// Package shard holds the slice of the global key space owned by one process.
// It is the only place accumulated values are mutated.
package shard

import "golang.org/x/exp/constraints"

// Number is any value that combines by addition.
type Number interface {
	constraints.Integer | constraints.Float
}

// Shard is a local key → value map with lazily created entries.
// It is owned by a single goroutine and does no locking.
type Shard[K comparable, V Number] struct {
	data     map[K]V
	reserved int
}

// New creates an empty shard.
func New[K comparable, V Number]() *Shard[K, V] {
	return &Shard[K, V]{data: make(map[K]V)}
}

// Reserve pre-sizes the shard for n entries. Existing entries are kept.
func (s *Shard[K, V]) Reserve(n int) {
	if n <= s.reserved || n <= len(s.data) {
		return
	}
	grown := make(map[K]V, n)
	for k, v := range s.data {
		grown[k] = v
	}
	s.data = grown
	s.reserved = n
}

// Add applies one increment, creating the entry at the additive identity first.
func (s *Shard[K, V]) Add(key K, value V) {
	s.data[key] += value
}

// Len is the number of distinct keys held.
func (s *Shard[K, V]) Len() int { return len(s.data) }

// Capacity is the allocation the shard has been sized for. Go maps do not expose
// their bucket count, so this is the larger of the reservation and the entry count.
func (s *Shard[K, V]) Capacity() int {
	if len(s.data) > s.reserved {
		return len(s.data)
	}
	return s.reserved
}

// View exposes the underlying map. Callers must treat it as read-only.
func (s *Shard[K, V]) View() map[K]V { return s.data }

// Clear drops every entry but keeps the reservation.
func (s *Shard[K, V]) Clear() {
	s.data = make(map[K]V, s.reserved)
}
