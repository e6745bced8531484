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

// Package main runs a synthetic accumulation workload on a bigmap group.
//
// Every rank draws keys from a Zipf distribution and adds small integer values
// to them. After each episode the group checks that the sum of everything
// stored equals the sum of everything issued, and exits non-zero if not.
//
// By default all ranks are simulated in this process over the in-memory
// transport. With --transport=redis --redis_addr=host:6379 --rank=N, one rank
// runs per process and the group meets through Redis lists.
//
// Every flag can also be set from the environment (BIGMAP_PROCS=8) or a
// config file (--config=demo.yaml).
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"bigmap"
	"bigmap/internal/dial"
	"bigmap/internal/partition"
	"bigmap/internal/telemetry"
	"bigmap/pkg/group"
)

type config struct {
	Transport   string
	Procs       int
	Rank        int
	Hosts       []string
	Host        string
	RedisAddr   string
	Prefix      string
	PollTimeout time.Duration

	Keys     uint64
	Incs     int
	Skew     float64
	Seed     int64
	Episodes int
	Progress int

	BufferTotal int
	BufferMin   int
	HintsPath   string
	Hash        string

	MetricsAddr string
	LogLevel    string
}

func loadConfig(args []string) (config, error) {
	hostname, _ := os.Hostname()
	fs := pflag.NewFlagSet("bigmap-demo", pflag.ContinueOnError)
	fs.String("config", "", "Optional config file (yaml, json or toml)")
	fs.String("transport", "memory", "Transport: memory or redis")
	fs.Int("procs", 4, "Number of ranks in the group")
	fs.Int("rank", -1, "This process's rank; -1 simulates every rank in-process")
	fs.StringSlice("hosts", nil, "Host names reported by simulated ranks (cycled)")
	fs.String("host", hostname, "Host name reported by this process")
	fs.String("redis_addr", "", "Redis server address; empty uses an in-process list store")
	fs.String("prefix", "bigmap", "Redis key prefix; must be unique per run")
	fs.Duration("poll_timeout", 250*time.Millisecond, "Redis blocking pop timeout")
	fs.Uint64("keys", 10000, "Size of the key space")
	fs.Int("incs", 100000, "Increments issued by each rank per episode")
	fs.Float64("skew", 1.1, "Zipf exponent of the key distribution (> 1)")
	fs.Int64("seed", 1, "Workload seed; rank r uses seed+r")
	fs.Int("episodes", 1, "Number of accumulation episodes")
	fs.Int("progress", 25000, "Log progress every N increments; 0 disables")
	fs.Int("buffer_total", bigmap.DefaultTotalBuffer, "In-flight increment budget shared by the group")
	fs.Int("buffer_min", bigmap.DefaultMinBuffer, "Minimum outgoing slots per rank")
	fs.String("hints", partition.DefaultHintsPath, "Capacity hints file (JSON host -> weight)")
	fs.String("hash", "xxhash", "Routing hash: xxhash, xxh3 or murmur3")
	fs.String("metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address (e.g., :9090)")
	fs.String("log_level", "info", "Log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("BIGMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return config{}, err
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := config{
		Transport:   v.GetString("transport"),
		Procs:       v.GetInt("procs"),
		Rank:        v.GetInt("rank"),
		Hosts:       v.GetStringSlice("hosts"),
		Host:        v.GetString("host"),
		RedisAddr:   v.GetString("redis_addr"),
		Prefix:      v.GetString("prefix"),
		PollTimeout: v.GetDuration("poll_timeout"),
		Keys:        v.GetUint64("keys"),
		Incs:        v.GetInt("incs"),
		Skew:        v.GetFloat64("skew"),
		Seed:        v.GetInt64("seed"),
		Episodes:    v.GetInt("episodes"),
		Progress:    v.GetInt("progress"),
		BufferTotal: v.GetInt("buffer_total"),
		BufferMin:   v.GetInt("buffer_min"),
		HintsPath:   v.GetString("hints"),
		Hash:        v.GetString("hash"),
		MetricsAddr: v.GetString("metrics_addr"),
		LogLevel:    v.GetString("log_level"),
	}
	switch {
	case cfg.Keys < 2:
		return cfg, errors.New("keys must be at least 2")
	case cfg.Skew <= 1:
		return cfg, errors.New("skew must be greater than 1")
	case cfg.Episodes < 1:
		return cfg, errors.New("episodes must be at least 1")
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func recordSettings(cfg config) {
	telemetry.RecordSetting("transport", cfg.Transport)
	telemetry.RecordSetting("procs", cfg.Procs)
	telemetry.RecordSetting("keys", cfg.Keys)
	telemetry.RecordSetting("incs", cfg.Incs)
	telemetry.RecordSetting("skew", cfg.Skew)
	telemetry.RecordSetting("episodes", cfg.Episodes)
	telemetry.RecordSetting("buffer_total", cfg.BufferTotal)
	telemetry.RecordSetting("buffer_min", cfg.BufferMin)
	telemetry.RecordSetting("hash", cfg.Hash)
	telemetry.RecordSetting("hints", cfg.HintsPath)
	telemetry.RecordSetting("poll_timeout", cfg.PollTimeout)
	telemetry.RecordSetting("metrics", cfg.MetricsAddr != "")
}

// episode issues one rank's workload and verifies conservation across the group.
func episode(ctx context.Context, g *group.Group, m *bigmap.Map[string, uint64], cfg config, n int, log *zap.Logger) error {
	rng := rand.New(rand.NewSource(cfg.Seed + int64(g.Self()) + int64(n)*int64(g.Size())))
	zipf := rand.NewZipf(rng, cfg.Skew, 1, cfg.Keys-1)

	start := time.Now()
	var issued uint64
	for i := 1; i <= cfg.Incs; i++ {
		v := uint64(rng.Intn(9) + 1)
		if err := m.AsyncInc(ctx, fmt.Sprintf("key-%d", zipf.Uint64()), v); err != nil {
			return err
		}
		issued += v
		if cfg.Progress > 0 && i%cfg.Progress == 0 {
			log.Info("progress", zap.Int("episode", n), zap.Int("issued", i), zap.Int("of", cfg.Incs))
		}
	}
	if err := m.CompleteAsyncIncs(ctx); err != nil {
		return err
	}
	elapsed := time.Since(start)

	var stored uint64
	for _, v := range m.LocalMap() {
		stored += v
	}
	totalIssued, err := g.AllReduceSum(ctx, issued)
	if err != nil {
		return err
	}
	totalStored, err := g.AllReduceSum(ctx, stored)
	if err != nil {
		return err
	}
	size, err := m.Size(ctx)
	if err != nil {
		return err
	}
	buckets, err := m.BucketCount(ctx)
	if err != nil {
		return err
	}

	log.Info("episode complete",
		zap.Int("episode", n),
		zap.Duration("elapsed", elapsed),
		zap.Int("local_keys", len(m.LocalMap())),
		zap.Uint64("size", size),
		zap.Uint64("bucket_count", buckets),
		zap.Uint64("issued", totalIssued),
		zap.Uint64("stored", totalStored))
	if totalIssued != totalStored {
		return fmt.Errorf("episode %d: stored %d of %d issued", n, totalStored, totalIssued)
	}
	return nil
}

func run(ctx context.Context, cfg config, log *zap.Logger) error {
	dc := dial.Config{
		Transport:   cfg.Transport,
		Size:        cfg.Procs,
		Rank:        cfg.Rank,
		Hosts:       cfg.Hosts,
		Host:        cfg.Host,
		RedisAddr:   cfg.RedisAddr,
		Prefix:      cfg.Prefix,
		PollTimeout: cfg.PollTimeout,
		Logger:      log,
	}
	return dial.Run(ctx, dc, func(ctx context.Context, g *group.Group) error {
		rlog := log.With(zap.Int("rank", g.Self()))
		m, err := bigmap.New(ctx, g, bigmap.Entry[string, uint64]{Key: fmt.Sprintf("key-%d", cfg.Keys)}, bigmap.Options[string]{
			TotalBuffer: cfg.BufferTotal,
			MinBuffer:   cfg.BufferMin,
			HintsPath:   cfg.HintsPath,
			Hash:        cfg.Hash,
			Logger:      log,
			OnFatal: func(err error) {
				rlog.Error("unrecoverable accumulator error", zap.Error(err))
			},
		})
		if err != nil {
			return err
		}
		if err := m.Reserve(ctx, cfg.Keys); err != nil {
			return err
		}
		for n := 0; n < cfg.Episodes; n++ {
			if n > 0 {
				m.Reset()
			}
			if err := episode(ctx, g, m, cfg, n, rlog); err != nil {
				return err
			}
		}
		return nil
	})
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "bigmap-demo: %v\n", err)
		os.Exit(2)
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bigmap-demo: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	recordSettings(cfg)
	if cfg.MetricsAddr != "" {
		srv := telemetry.Serve(cfg.MetricsAddr)
		log.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg, log)
	fmt.Printf("settings: %s\n", telemetry.SettingsSummary())
	if err != nil {
		log.Error("demo failed", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
	log.Info("demo finished")
}
