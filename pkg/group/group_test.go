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

package group_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bigmap/pkg/group"
	"bigmap/pkg/transport"
	"bigmap/pkg/transport/memory"
)

func TestNew_Validation(t *testing.T) {
	_, err := group.New(nil, "h")
	require.Error(t, err)

	g, err := group.New(memory.NewHub(2).Endpoint(1), "")
	require.NoError(t, err)
	require.Equal(t, 1, g.Self())
	require.Equal(t, 2, g.Size())
	require.Equal(t, "localhost", g.Host())
	require.NotNil(t, g.Transport())
}

func TestAllReduceSum(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("size=%d", n), func(t *testing.T) {
			want := uint64(n * (n + 1) / 2)
			err := memory.Run(context.Background(), memory.Hosts(n, "h"), func(ctx context.Context, g *group.Group) error {
				// Two reductions back to back exercise reuse of the control channel.
				for round := 0; round < 2; round++ {
					got, err := g.AllReduceSum(ctx, uint64(g.Self()+1))
					if err != nil {
						return err
					}
					if got != want {
						return fmt.Errorf("round %d: got %d want %d", round, got, want)
					}
				}
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestBarrier_NoMemberLeavesEarly(t *testing.T) {
	const n = 4
	var arrived atomic.Int32
	err := memory.Run(context.Background(), memory.Hosts(n, "h"), func(ctx context.Context, g *group.Group) error {
		if g.Self() == n-1 {
			time.Sleep(20 * time.Millisecond)
		}
		arrived.Add(1)
		if err := g.Barrier(ctx); err != nil {
			return err
		}
		if got := arrived.Load(); got != n {
			return fmt.Errorf("left barrier with only %d arrivals", got)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestAllReduceSum_RejectsForeignTag(t *testing.T) {
	hub := memory.NewHub(2)
	g, err := group.New(hub.Endpoint(0), "h")
	require.NoError(t, err)

	hub.Endpoint(1).Send(0, transport.Control, 42, []byte{0, 0, 0, 0, 0, 0, 0, 1})
	_, err = g.AllReduceSum(context.Background(), 1)
	require.ErrorIs(t, err, group.ErrUnexpectedMessage)
}
