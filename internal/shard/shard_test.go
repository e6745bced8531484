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

package shard

import "testing"

func TestShard_AddCreatesLazily(t *testing.T) {
	s := New[string, float64]()
	if _, ok := s.View()["k"]; ok {
		t.Fatalf("unexpected entry before first add")
	}
	s.Add("k", 3)
	s.Add("k", 4)
	s.Add("j", -1)
	if v := s.View()["k"]; v != 7 {
		t.Fatalf("expected 7, got %v", v)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", s.Len())
	}
}

func TestShard_ReserveKeepsEntries(t *testing.T) {
	s := New[int, int64]()
	s.Add(1, 10)
	s.Reserve(64)
	if s.Capacity() != 64 {
		t.Fatalf("capacity %d, want 64", s.Capacity())
	}
	if v := s.View()[1]; v != 10 {
		t.Fatalf("entry lost across reserve")
	}
	// Shrinking requests are ignored.
	s.Reserve(8)
	if s.Capacity() != 64 {
		t.Fatalf("capacity shrank to %d", s.Capacity())
	}
	for i := 0; i < 100; i++ {
		s.Add(i, 1)
	}
	if s.Capacity() != 100 {
		t.Fatalf("capacity should track entries past the reservation, got %d", s.Capacity())
	}
}

func TestShard_ViewClear(t *testing.T) {
	s := New[string, int]()
	s.Reserve(16)
	s.Add("a", 1)
	s.Add("b", 2)

	sum := 0
	for _, v := range s.View() {
		sum += v
	}
	if sum != 3 {
		t.Fatalf("view sum %d, want 3", sum)
	}
	if len(s.View()) != 2 {
		t.Fatalf("view should expose both entries")
	}

	s.Clear()
	if s.Len() != 0 || s.Capacity() != 16 {
		t.Fatalf("clear should empty the shard and keep the reservation: len=%d cap=%d", s.Len(), s.Capacity())
	}
}
