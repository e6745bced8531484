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

package memory

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"bigmap/pkg/group"
)

// Run simulates a group with one goroutine per entry in hosts. hosts[r] is the
// host name reported by rank r. The first failing rank cancels the others.
func Run(ctx context.Context, hosts []string, fn func(ctx context.Context, g *group.Group) error) error {
	if len(hosts) == 0 {
		return fmt.Errorf("memory: empty group")
	}
	hub := NewHub(len(hosts))
	defer hub.Close()

	eg, ctx := errgroup.WithContext(ctx)
	for rank, host := range hosts {
		g, err := group.New(hub.Endpoint(rank), host)
		if err != nil {
			return err
		}
		eg.Go(func() error {
			if err := fn(ctx, g); err != nil {
				return fmt.Errorf("rank %d: %w", g.Self(), err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// Hosts returns n copies of host, handy for single-host simulations.
func Hosts(n int, host string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = host
	}
	return out
}
