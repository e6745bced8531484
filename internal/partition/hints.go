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

package partition

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// DefaultWeight is the capacity weight of a host missing from the hints.
const DefaultWeight uint64 = 8

// DefaultHintsPath is where LoadHints looks when no path is configured.
const DefaultHintsPath = "nodes.json"

// Hints maps a lower-cased host name to its relative capacity weight.
type Hints map[string]uint64

// Weight returns the weight of host, or DefaultWeight when it is unlisted or not positive.
func (h Hints) Weight(host string) uint64 {
	if w, ok := h[strings.ToLower(host)]; ok && w > 0 {
		return w
	}
	return DefaultWeight
}

// LoadHints reads a JSON object of host → weight. Host names commonly contain
// dots, so the file is read with '/' as the key delimiter to keep them flat.
// Entries that are not positive integers are dropped and fall back to the default.
func LoadHints(path string) (Hints, error) {
	if path == "" {
		path = DefaultHintsPath
	}
	v := viper.NewWithOptions(viper.KeyDelimiter("/"))
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read capacity hints %s: %w", path, err)
	}
	hints := make(Hints)
	for _, host := range v.AllKeys() {
		w := v.GetInt64(host)
		if w <= 0 {
			continue
		}
		hints[strings.ToLower(host)] = uint64(w)
	}
	return hints, nil
}
