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

package main

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoadConfig_FlagsAndEnv(t *testing.T) {
	t.Setenv("BIGMAP_PROCS", "7")
	cfg, err := loadConfig([]string{"--keys=50", "--transport=redis"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Procs != 7 || cfg.Keys != 50 || cfg.Transport != "redis" || cfg.Rank != -1 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadConfig_Rejects(t *testing.T) {
	for _, args := range [][]string{
		{"--skew=1"},
		{"--keys=1"},
		{"--episodes=0"},
		{"--no-such-flag"},
	} {
		if _, err := loadConfig(args); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

func TestRun_SmallWorkloadConserves(t *testing.T) {
	for _, transport := range []string{"memory", "redis"} {
		cfg, err := loadConfig([]string{
			"--transport=" + transport,
			"--procs=3",
			"--keys=200",
			"--incs=2000",
			"--episodes=2",
			"--buffer_total=30",
			"--buffer_min=5",
			"--poll_timeout=5ms",
			"--hints=does-not-exist.json",
			"--prefix=demo-" + transport,
		})
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if err := run(context.Background(), cfg, zap.NewNop()); err != nil {
			t.Fatalf("%s: %v", transport, err)
		}
	}
}
