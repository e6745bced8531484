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

// Package hashing turns keys into stable 64-bit hashes. Stability matters more
// than speed here: every process in a group must compute the same hash for the
// same key, so nothing in this package may depend on per-process seeds.
package hashing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/xxh3"
)

// Func hashes a byte string.
type Func func([]byte) uint64

const (
	XXHash  = "xxhash"
	XXH3    = "xxh3"
	Murmur3 = "murmur3"
)

// ByName resolves a hash function name. The empty name selects xxhash.
func ByName(name string) (Func, error) {
	switch strings.ToLower(name) {
	case "", XXHash:
		return xxhash.Sum64, nil
	case XXH3:
		return xxh3.Hash, nil
	case Murmur3:
		return murmur3.Sum64, nil
	default:
		return nil, fmt.Errorf("hashing: unknown hash %q", name)
	}
}

// Keyed builds a key hasher: part projects the key (nil means identity) and
// the projection is hashed by fn. The returned function reuses an internal
// buffer and must not be called concurrently.
func Keyed[K any](fn Func, part func(K) any) func(K) uint64 {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	var scratch [8]byte

	return func(k K) uint64 {
		var p any = k
		if part != nil {
			p = part(k)
		}
		switch v := p.(type) {
		case string:
			return fn([]byte(v))
		case []byte:
			return fn(v)
		case uint64:
			binary.LittleEndian.PutUint64(scratch[:], v)
			return fn(scratch[:])
		case int64:
			binary.LittleEndian.PutUint64(scratch[:], uint64(v))
			return fn(scratch[:])
		case int:
			binary.LittleEndian.PutUint64(scratch[:], uint64(v))
			return fn(scratch[:])
		case float64:
			return fn(putFloat(scratch[:], v))
		case float32:
			return fn(putFloat(scratch[:], float64(v)))
		}
		if rv := reflect.ValueOf(p); rv.Kind() == reflect.Float64 || rv.Kind() == reflect.Float32 {
			return fn(putFloat(scratch[:], rv.Float()))
		}
		buf.Reset()
		if err := enc.Encode(p); err != nil {
			// Keys are validated by encoding the skeleton at construction, so this
			// only fires for projections that produce unencodable values.
			panic(fmt.Sprintf("hashing: encode key part %T: %v", p, err))
		}
		return fn(buf.Bytes())
	}
}

// putFloat writes f's bits with -0 folded into +0; the two compare equal as keys.
func putFloat(b []byte, f float64) []byte {
	if f == 0 {
		f = 0
	}
	binary.LittleEndian.PutUint64(b, math.Float64bits(f))
	return b
}

// ErrUnstableKey is returned for key types whose equal values may hash apart.
var ErrUnstableKey = errors.New("hashing: equal keys may hash differently")

// CheckKeyType rejects composite key types that Keyed cannot hash stably:
// a float nested in a struct or array is hashed through its msgpack bytes,
// which differ for -0 and +0. Top-level floats are folded by Keyed itself.
// A type with its own msgpack encoder controls its bytes and is accepted.
func CheckKeyType(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Struct, reflect.Array:
		return checkNested(t, t.String())
	}
	return nil
}

var customEncoderType = reflect.TypeFor[msgpack.CustomEncoder]()

func checkNested(t reflect.Type, path string) error {
	if t.Implements(customEncoderType) {
		return nil
	}
	switch t.Kind() {
	case reflect.Float32, reflect.Float64:
		return fmt.Errorf("%w: %s is a float inside a composite key; hash it with KeyHash or KeyPart", ErrUnstableKey, path)
	case reflect.Array:
		return checkNested(t.Elem(), path+"[]")
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if err := checkNested(t.Field(i).Type, path+"."+t.Field(i).Name); err != nil {
				return err
			}
		}
	}
	return nil
}
