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

// Package partition builds the table that maps hash buckets to owning
// processes. Each process receives a number of buckets proportional to its
// host's capacity weight, split evenly among the processes sharing that host.
package partition

import (
	"errors"
	"fmt"
)

// Units controls partition granularity: the table holds at most Units buckets.
const Units uint64 = 10000

// ErrEmptyTable is returned when every process's share rounds down to zero.
var ErrEmptyTable = errors.New("partition: every process share rounds to zero buckets")

// Table is the immutable bucket → process map. Build it from identical inputs
// on every process and the tables are identical.
type Table struct {
	procMap []int
	shares  []uint64
	hosts   []string
}

// Build computes each process's share and lays the shares out in rank order.
// hosts[r] is the host name of rank r.
func Build(hosts []string, hints Hints) (*Table, error) {
	n := len(hosts)
	if n == 0 {
		return nil, errors.New("partition: no processes")
	}
	procsOnHost := make(map[string]uint64, n)
	var totalWeight uint64
	for _, h := range hosts {
		procsOnHost[h]++
		totalWeight += hints.Weight(h)
	}

	t := &Table{
		procMap: make([]int, 0, Units),
		shares:  make([]uint64, n),
		hosts:   append([]string(nil), hosts...),
	}
	for r, h := range hosts {
		share := hints.Weight(h) * Units / totalWeight / procsOnHost[h]
		t.shares[r] = share
		for j := uint64(0); j < share; j++ {
			t.procMap = append(t.procMap, r)
		}
	}
	if len(t.procMap) == 0 {
		return nil, ErrEmptyTable
	}
	return t, nil
}

// Buckets is total_buckets, the length of the table.
func (t *Table) Buckets() uint64 { return uint64(len(t.procMap)) }

// Owner maps a key hash to its owning rank.
func (t *Table) Owner(hash uint64) int {
	return t.procMap[hash%uint64(len(t.procMap))]
}

// Share is the number of buckets owned by rank.
func (t *Table) Share(rank int) uint64 { return t.shares[rank] }

// Fraction is rank's share of the table as a percentage.
func (t *Table) Fraction(rank int) float64 {
	return float64(t.shares[rank]) * 100.0 / float64(len(t.procMap))
}

// Host is the host name rank reported during construction.
func (t *Table) Host(rank int) string { return t.hosts[rank] }

// Starved lists the ranks whose share rounded down to zero buckets.
func (t *Table) Starved() []int {
	var out []int
	for r, s := range t.shares {
		if s == 0 {
			out = append(out, r)
		}
	}
	return out
}

func (t *Table) String() string {
	return fmt.Sprintf("partition(procs=%d buckets=%d)", len(t.shares), len(t.procMap))
}
