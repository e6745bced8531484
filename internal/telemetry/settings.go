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

package telemetry

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Run settings are recorded once by a driver. They are printed as a single
// summary line and exported as an info series so scraped runs can be told apart.
var (
	settingsMu sync.Mutex
	settings   = make(map[string]string)

	settingInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bigmap_setting_info",
		Help: "Driver configuration; always 1, the setting is carried in the labels",
	}, []string{"name", "value"})
)

func init() {
	prometheus.MustRegister(settingInfo)
}

// RecordSetting stores value under name, replacing an earlier value.
func RecordSetting(name string, value any) {
	s := fmt.Sprint(value)
	settingsMu.Lock()
	defer settingsMu.Unlock()
	if old, ok := settings[name]; ok {
		settingInfo.DeleteLabelValues(name, old)
	}
	settings[name] = s
	settingInfo.WithLabelValues(name, s).Set(1)
}

// SettingsSummary renders the recorded settings as "name=value" pairs sorted by name.
func SettingsSummary() string {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	pairs := make([]string, 0, len(settings))
	for _, name := range slices.Sorted(maps.Keys(settings)) {
		pairs = append(pairs, name+"="+settings[name])
	}
	return strings.Join(pairs, " ")
}
