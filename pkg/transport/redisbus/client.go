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

package redisbus

import (
	"context"
	"errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ListClient abstracts the minimal list surface the transport needs from Redis.
// Implementations may wrap github.com/redis/go-redis/v9 or any equivalent.
type ListClient interface {
	// Push appends value to the tail of the list at key.
	Push(ctx context.Context, key string, value []byte) error
	// Pop removes the head of the list at key, waiting up to timeout for one
	// to appear. ok is false when the wait timed out.
	Pop(ctx context.Context, key string, timeout time.Duration) (value []byte, ok bool, err error)
}

// GoRedisClient implements ListClient with RPUSH and BLPOP.
type GoRedisClient struct{ c *redis.Client }

// NewGoRedisClient connects to a Redis server at addr, e.g. "127.0.0.1:6379".
func NewGoRedisClient(addr string) *GoRedisClient {
	return &GoRedisClient{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (g *GoRedisClient) Push(ctx context.Context, key string, value []byte) error {
	return g.c.RPush(ctx, key, value).Err()
}

func (g *GoRedisClient) Pop(ctx context.Context, key string, timeout time.Duration) ([]byte, bool, error) {
	res, err := g.c.BLPop(ctx, timeout, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	// BLPOP replies with [key, value].
	if len(res) != 2 {
		return nil, false, errors.New("redisbus: unexpected BLPOP reply")
	}
	return []byte(res[1]), true, nil
}

// Ping checks connectivity.
func (g *GoRedisClient) Ping(ctx context.Context) error { return g.c.Ping(ctx).Err() }

func (g *GoRedisClient) Close() error { return g.c.Close() }

// LocalLists is an in-process ListClient. It lets a whole group run against
// the Redis transport without a server, for demos and tests.
type LocalLists struct {
	mu    sync.Mutex
	lists map[string][][]byte
	wake  chan struct{}
}

func NewLocalLists() *LocalLists {
	return &LocalLists{lists: make(map[string][][]byte), wake: make(chan struct{})}
}

func (l *LocalLists) Push(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := append([]byte(nil), value...)
	l.mu.Lock()
	l.lists[key] = append(l.lists[key], v)
	close(l.wake)
	l.wake = make(chan struct{})
	l.mu.Unlock()
	return nil
}

func (l *LocalLists) Pop(ctx context.Context, key string, timeout time.Duration) ([]byte, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		l.mu.Lock()
		if q := l.lists[key]; len(q) > 0 {
			v := q[0]
			q[0] = nil
			l.lists[key] = q[1:]
			l.mu.Unlock()
			return v, true, nil
		}
		wake := l.wake
		l.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return nil, false, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

// Len reports the number of values waiting at key.
func (l *LocalLists) Len(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lists[key])
}
