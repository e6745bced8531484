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

package dial

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"bigmap"
	"bigmap/pkg/group"
)

func TestRun_Validation(t *testing.T) {
	noop := func(context.Context, *group.Group) error { return nil }
	if err := Run(context.Background(), Config{Size: 0}, noop); err == nil {
		t.Fatalf("expected error for empty group")
	}
	if err := Run(context.Background(), Config{Transport: "carrier-pigeon", Size: 2}, noop); err == nil {
		t.Fatalf("expected error for unknown transport")
	}
	err := Run(context.Background(), Config{Transport: "redis", RedisAddr: "127.0.0.1:0", Size: 2, Rank: -1}, noop)
	if err == nil || !strings.Contains(err.Error(), "explicit rank") {
		t.Fatalf("expected rank error, got %v", err)
	}
	err = Run(context.Background(), Config{Transport: "redis", RedisAddr: "127.0.0.1:0", Size: 2, Rank: 2}, noop)
	if err == nil || !strings.Contains(err.Error(), "outside group") {
		t.Fatalf("expected range error, got %v", err)
	}
}

func TestHostNames_Cycle(t *testing.T) {
	got := hostNames(Config{Size: 5, Hosts: []string{"a", "b"}})
	if strings.Join(got, ",") != "a,b,a,b,a" {
		t.Fatalf("unexpected hosts %v", got)
	}
	got = hostNames(Config{Size: 2, Host: "solo"})
	if strings.Join(got, ",") != "solo,solo" {
		t.Fatalf("unexpected hosts %v", got)
	}
}

func TestRun_EveryRankRuns(t *testing.T) {
	for _, name := range []string{"memory", "redis"} {
		t.Run(name, func(t *testing.T) {
			var mu sync.Mutex
			seen := map[int]string{}
			err := Run(context.Background(), Config{Transport: name, Size: 3, Rank: -1, Hosts: []string{"x", "y"}, PollTimeout: 5 * time.Millisecond},
				func(ctx context.Context, g *group.Group) error {
					mu.Lock()
					seen[g.Self()] = g.Host()
					mu.Unlock()
					return g.Barrier(ctx)
				})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if len(seen) != 3 || seen[0] != "x" || seen[1] != "y" || seen[2] != "x" {
				t.Fatalf("unexpected ranks %v", seen)
			}
		})
	}
}

// The accumulator behaves the same over the Redis list transport.
func TestRun_AccumulatorOverRedisLists(t *testing.T) {
	const size, keys = 3, 40
	err := Run(context.Background(), Config{Transport: "redis", Size: size, Rank: -1, Prefix: "acc", PollTimeout: 5 * time.Millisecond},
		func(ctx context.Context, g *group.Group) error {
			m, err := bigmap.New(ctx, g, bigmap.Entry[string, int64]{Key: "k-00"}, bigmap.Options[string]{
				TotalBuffer: 6,
				MinBuffer:   2,
				Hints:       map[string]uint64{},
			})
			if err != nil {
				return err
			}
			for round := 0; round < 3; round++ {
				for i := 0; i < keys; i++ {
					if err := m.AsyncInc(ctx, fmt.Sprintf("k-%02d", i), int64(i)); err != nil {
						return err
					}
				}
			}
			if err := m.CompleteAsyncIncs(ctx); err != nil {
				return err
			}
			for k, v := range m.LocalMap() {
				var i int64
				if _, err := fmt.Sscanf(k, "k-%02d", &i); err != nil {
					return err
				}
				if v != 3*size*i {
					return fmt.Errorf("%s = %d, want %d", k, v, 3*size*i)
				}
			}
			n, err := m.Size(ctx)
			if err != nil {
				return err
			}
			if n != keys {
				return fmt.Errorf("size %d, want %d", n, keys)
			}
			return nil
		})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}
