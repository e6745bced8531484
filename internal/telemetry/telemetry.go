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

// Package telemetry exposes process-level counters for the accumulator. All
// simulated ranks in one process share the same collectors; there are no
// per-key or per-rank labels, so cardinality stays fixed.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	localApplies = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bigmap_local_applies_total",
		Help: "Increments applied directly because the key is owned locally",
	})
	remoteSends = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bigmap_remote_sends_total",
		Help: "Increments shipped to a remote owner",
	})
	remoteApplies = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bigmap_remote_applies_total",
		Help: "Increments received from a peer and applied to the local shard",
	})
	trunkRounds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bigmap_trunk_rounds_total",
		Help: "Flow-control drains triggered by a full outgoing slot pool",
	})
	completions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bigmap_completions_total",
		Help: "Completed accumulation episodes",
	})
	announcements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bigmap_announcements_received_total",
		Help: "Count announcements received from peers by kind",
	}, []string{"kind"})
	syncWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bigmap_sync_wait_seconds",
		Help:    "Time spent blocked at a synchronization point",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"phase"})
	slotsInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bigmap_slots_in_use",
		Help: "Outgoing slots holding an unacknowledged increment (last writer wins across ranks)",
	})
)

func init() {
	prometheus.MustRegister(localApplies, remoteSends, remoteApplies, trunkRounds, completions, announcements, syncWait, slotsInUse)
}

// Phase names for ObserveWait.
const (
	PhaseTrunk      = "trunk"
	PhaseCompletion = "completion"
	PhaseSetup      = "setup"
)

// Announcement kinds for ObserveAnnouncement.
const (
	KindTrunk  = "trunk_finish"
	KindFinish = "finish"
)

func ObserveLocalApply() { localApplies.Inc() }

func ObserveRemoteSend() { remoteSends.Inc() }

func ObserveRemoteApply() { remoteApplies.Inc() }

// ObserveAnnouncement records a TRUNK_FINISH or FINISH arrival.
func ObserveAnnouncement(kind string) { announcements.WithLabelValues(kind).Inc() }

// ObserveWait records time spent blocked in phase. Trunk and completion
// phases also count as a round.
func ObserveWait(phase string, d time.Duration) {
	syncWait.WithLabelValues(phase).Observe(d.Seconds())
	switch phase {
	case PhaseTrunk:
		trunkRounds.Inc()
	case PhaseCompletion:
		completions.Inc()
	}
}

func SetSlotsInUse(n int) { slotsInUse.Set(float64(n)) }

// Serve exposes /metrics on addr in a background goroutine. The caller owns shutdown.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
	return server
}
