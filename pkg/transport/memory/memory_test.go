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
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bigmap/pkg/group"
	"bigmap/pkg/transport"
)

func TestEndpoint_PerSourceOrderAndCopy(t *testing.T) {
	hub := NewHub(2)
	a, b := hub.Endpoint(0), hub.Endpoint(1)

	payload := []byte("x")
	for i := 0; i < 5; i++ {
		payload[0] = byte('a' + i)
		require.NoError(t, a.Send(1, transport.Data, uint8(i), payload).Wait(context.Background()))
	}
	require.Equal(t, 5, hub.Pending(1, transport.Data))
	require.Equal(t, 0, hub.Pending(1, transport.Control))

	for i := 0; i < 5; i++ {
		m, err := b.Recv(context.Background(), transport.Data)
		require.NoError(t, err)
		require.Equal(t, 0, m.From)
		require.Equal(t, uint8(i), m.Tag)
		require.Equal(t, []byte{byte('a' + i)}, m.Payload)
	}
}

func TestEndpoint_ChannelsAreIndependent(t *testing.T) {
	hub := NewHub(2)
	a, b := hub.Endpoint(0), hub.Endpoint(1)
	a.Send(1, transport.Control, 7, nil)
	a.Send(1, transport.Data, 3, nil)

	m, err := b.Recv(context.Background(), transport.Data)
	require.NoError(t, err)
	require.Equal(t, uint8(3), m.Tag)
	m, err = b.Recv(context.Background(), transport.Control)
	require.NoError(t, err)
	require.Equal(t, uint8(7), m.Tag)
}

func TestEndpoint_RecvBlocksUntilSend(t *testing.T) {
	hub := NewHub(2)
	got := make(chan transport.Message, 1)
	go func() {
		m, err := hub.Endpoint(1).Recv(context.Background(), transport.Data)
		if err == nil {
			got <- m
		}
	}()
	time.Sleep(5 * time.Millisecond)
	hub.Endpoint(0).Send(1, transport.Data, 1, []byte("hi"))
	select {
	case m := <-got:
		require.Equal(t, []byte("hi"), m.Payload)
	case <-time.After(time.Second):
		t.Fatal("receive did not wake up")
	}
}

func TestEndpoint_RecvCancelledAndClosed(t *testing.T) {
	hub := NewHub(1)
	ep := hub.Endpoint(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := ep.Recv(ctx, transport.Data)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, ep.Close())
	_, err = ep.Recv(context.Background(), transport.Data)
	require.ErrorIs(t, err, transport.ErrClosed)
	require.ErrorIs(t, ep.Send(0, transport.Data, 0, nil).Wait(context.Background()), transport.ErrClosed)
}

func TestEndpoint_SendOutOfRange(t *testing.T) {
	hub := NewHub(2)
	require.Error(t, hub.Endpoint(0).Send(2, transport.Data, 0, nil).Wait(context.Background()))
	require.Error(t, hub.Endpoint(0).Send(-1, transport.Data, 0, nil).Wait(context.Background()))
}

func TestRun_PropagatesFirstError(t *testing.T) {
	boom := errors.New("boom")
	var ran atomic.Int32
	err := Run(context.Background(), Hosts(3, "h"), func(ctx context.Context, g *group.Group) error {
		ran.Add(1)
		if g.Self() == 1 {
			return boom
		}
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, int32(3), ran.Load())
}

func TestRun_HostsAndRanks(t *testing.T) {
	hosts := []string{"a", "b", "b"}
	seen := make([]atomic.Value, len(hosts))
	err := Run(context.Background(), hosts, func(_ context.Context, g *group.Group) error {
		if g.Size() != 3 {
			return errors.New("unexpected group size")
		}
		seen[g.Self()].Store(g.Host())
		return nil
	})
	require.NoError(t, err)
	for r, h := range hosts {
		require.Equal(t, h, seen[r].Load())
	}
}
