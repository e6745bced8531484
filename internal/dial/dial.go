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

// Package dial builds the process group a driver runs on from a transport name.
package dial

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bigmap/pkg/group"
	"bigmap/pkg/transport/memory"
	"bigmap/pkg/transport/redisbus"
)

// Config selects and configures a transport.
type Config struct {
	// Transport is "memory" (default) or "redis".
	Transport string
	// Size is the number of ranks in the group.
	Size int
	// Rank is this process's rank when the group spans several processes.
	// A negative rank simulates every rank in this process.
	Rank int
	// Hosts are the host names reported by simulated ranks, cycled when shorter
	// than Size. A multi-process rank reports Host.
	Hosts []string
	Host  string

	RedisAddr   string
	Prefix      string
	PollTimeout time.Duration
	Logger      *zap.Logger
}

// Run executes fn for every rank hosted by this process and returns the first error.
//
// Supported transports:
//   - "memory": every rank simulated in-process (Rank is ignored)
//   - "redis": Redis lists. With RedisAddr and Rank >= 0 only that rank runs
//     here; without RedisAddr an in-process list store stands in for the server
//     and every rank is simulated.
func Run(ctx context.Context, cfg Config, fn func(ctx context.Context, g *group.Group) error) error {
	if cfg.Size <= 0 {
		return fmt.Errorf("dial: group size must be positive, got %d", cfg.Size)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	switch cfg.Transport {
	case "", "memory":
		return memory.Run(ctx, hostNames(cfg), fn)
	case "redis":
		if cfg.RedisAddr == "" {
			return runLocalRedis(ctx, cfg, fn)
		}
		if cfg.Rank < 0 {
			return errors.New("dial: a Redis server address needs an explicit rank per process")
		}
		return runRedisRank(ctx, cfg, fn)
	default:
		return fmt.Errorf("dial: unknown transport %q", cfg.Transport)
	}
}

func hostNames(cfg Config) []string {
	if len(cfg.Hosts) == 0 {
		return memory.Hosts(cfg.Size, cfg.Host)
	}
	out := make([]string, cfg.Size)
	for i := range out {
		out[i] = cfg.Hosts[i%len(cfg.Hosts)]
	}
	return out
}

func busOptions(cfg Config, rank int) redisbus.Options {
	return redisbus.Options{
		Prefix:      cfg.Prefix,
		Rank:        rank,
		Size:        cfg.Size,
		PollTimeout: cfg.PollTimeout,
		Logger:      cfg.Logger,
	}
}

func runRedisRank(ctx context.Context, cfg Config, fn func(ctx context.Context, g *group.Group) error) error {
	if cfg.Rank >= cfg.Size {
		return fmt.Errorf("dial: rank %d outside group of %d", cfg.Rank, cfg.Size)
	}
	client := redisbus.NewGoRedisClient(cfg.RedisAddr)
	defer client.Close()
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("dial: redis %s: %w", cfg.RedisAddr, err)
	}
	t, err := redisbus.New(client, busOptions(cfg, cfg.Rank))
	if err != nil {
		return err
	}
	defer t.Close()
	g, err := group.New(t, cfg.Host)
	if err != nil {
		return err
	}
	cfg.Logger.Info("joined group over redis",
		zap.String("addr", cfg.RedisAddr), zap.Int("rank", cfg.Rank), zap.Int("size", cfg.Size))
	return fn(ctx, g)
}

func runLocalRedis(ctx context.Context, cfg Config, fn func(ctx context.Context, g *group.Group) error) error {
	lists := redisbus.NewLocalLists()
	hosts := hostNames(cfg)
	eg, ctx := errgroup.WithContext(ctx)
	for rank := range hosts {
		t, err := redisbus.New(lists, busOptions(cfg, rank))
		if err != nil {
			return err
		}
		g, err := group.New(t, hosts[rank])
		if err != nil {
			t.Close()
			return err
		}
		eg.Go(func() error {
			defer t.Close()
			if err := fn(ctx, g); err != nil {
				return fmt.Errorf("rank %d: %w", rank, err)
			}
			return nil
		})
	}
	return eg.Wait()
}
