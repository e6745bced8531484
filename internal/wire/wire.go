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

// Package wire encodes the four message kinds exchanged on the accumulator's
// data channel. KV entries travel as compact msgpack arrays; counts are fixed
// 8-byte big-endian integers so a truncated or padded count is detectable.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Tag identifies a data-channel message.
type Tag uint8

const (
	// NodeInfo carries a host name during construction.
	NodeInfo Tag = iota
	// KV carries one (key, value) increment.
	KV
	// TrunkFinish carries the sender's running send count to the receiver.
	TrunkFinish
	// Finish carries the sender's final send count to the receiver.
	Finish
)

func (t Tag) String() string {
	switch t {
	case NodeInfo:
		return "NODE_INFO"
	case KV:
		return "KV"
	case TrunkFinish:
		return "TRUNK_FINISH"
	case Finish:
		return "FINISH"
	default:
		return fmt.Sprintf("TAG(%d)", uint8(t))
	}
}

var (
	// ErrMalformed is returned for payloads that cannot be decoded.
	ErrMalformed = errors.New("wire: malformed payload")
	// ErrKeyType is returned for key types whose encoding loses part of the key.
	ErrKeyType = errors.New("wire: key type does not survive encoding")
)

// Entry is a (key, value) pair as it appears on the wire.
type Entry[K any, V any] struct {
	_msgpack struct{} `msgpack:",as_array"`
	Key      K
	Value    V
}

// Codec encodes and decodes KV payloads for one key/value type pair.
// A Codec reuses internal buffers and is not safe for concurrent use.
type Codec[K any, V any] struct {
	buf       bytes.Buffer
	enc       *msgpack.Encoder
	footprint int
}

// NewCodec measures the skeleton's encoded size, which callers use to pre-size slot buffers.
func NewCodec[K any, V any](skeleton Entry[K, V]) (*Codec[K, V], error) {
	c := &Codec[K, V]{}
	c.enc = msgpack.NewEncoder(&c.buf)
	c.enc.SetSortMapKeys(true)
	b, err := c.encode(skeleton)
	if err != nil {
		return nil, fmt.Errorf("wire: encode skeleton: %w", err)
	}
	c.footprint = len(b)
	return c, nil
}

// Footprint is the encoded size of the skeleton entry.
func (c *Codec[K, V]) Footprint() int { return c.footprint }

// AppendKV appends the encoding of (key, value) to dst[:0] and returns it.
func (c *Codec[K, V]) AppendKV(dst []byte, key K, value V) ([]byte, error) {
	b, err := c.encode(Entry[K, V]{Key: key, Value: value})
	if err != nil {
		return dst, fmt.Errorf("wire: encode kv: %w", err)
	}
	return append(dst[:0], b...), nil
}

func (c *Codec[K, V]) encode(e Entry[K, V]) ([]byte, error) {
	c.buf.Reset()
	if err := c.enc.Encode(&e); err != nil {
		return nil, err
	}
	return c.buf.Bytes(), nil
}

// DecodeKV decodes a KV payload.
func (c *Codec[K, V]) DecodeKV(b []byte) (K, V, error) {
	var e Entry[K, V]
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return e.Key, e.Value, fmt.Errorf("%w: kv: %v", ErrMalformed, err)
	}
	return e.Key, e.Value, nil
}

// EncodeCount encodes a TrunkFinish or Finish count.
func EncodeCount(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// DecodeCount decodes a count payload, rejecting anything but exactly 8 bytes.
func DecodeCount(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: count of %d bytes", ErrMalformed, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// EncodeNodeInfo encodes a host name.
func EncodeNodeInfo(host string) []byte { return []byte(host) }

// DecodeNodeInfo decodes a host name.
func DecodeNodeInfo(b []byte) (string, error) {
	if len(b) == 0 {
		return "", fmt.Errorf("%w: empty host name", ErrMalformed)
	}
	return string(b), nil
}

var (
	customEncoderType = reflect.TypeFor[msgpack.CustomEncoder]()
	customDecoderType = reflect.TypeFor[msgpack.CustomDecoder]()
	marshalerType     = reflect.TypeFor[msgpack.Marshaler]()
	unmarshalerType   = reflect.TypeFor[msgpack.Unmarshaler]()
)

// CheckKeyType rejects key types that msgpack would encode only in part:
// unexported or "-" tagged struct fields are skipped by the encoder, and
// pointers or interfaces do not decode to a value equal to the original.
// A type implementing msgpack.CustomEncoder and msgpack.CustomDecoder (or
// msgpack.Marshaler and msgpack.Unmarshaler) carries its own encoding and is
// accepted as is.
func CheckKeyType(t reflect.Type) error {
	return checkKeyType(t, t.String())
}

func selfEncoding(t reflect.Type) bool {
	p := reflect.PointerTo(t)
	return (t.Implements(customEncoderType) && p.Implements(customDecoderType)) ||
		(t.Implements(marshalerType) && p.Implements(unmarshalerType))
}

func checkKeyType(t reflect.Type, path string) error {
	if selfEncoding(t) {
		return nil
	}
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Chan, reflect.Func, reflect.UnsafePointer,
		reflect.Map, reflect.Slice, reflect.Complex64, reflect.Complex128:
		return fmt.Errorf("%w: %s is a %s", ErrKeyType, path, t.Kind())
	case reflect.Array:
		return checkKeyType(t.Elem(), path+"[]")
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.Name == "_" || f.Name == "_msgpack" {
				continue
			}
			name := path + "." + f.Name
			if !f.IsExported() && !(f.Anonymous && f.Type.Kind() == reflect.Struct) {
				return fmt.Errorf("%w: field %s is unexported; export it or implement msgpack.CustomEncoder", ErrKeyType, name)
			}
			if tag, _, _ := strings.Cut(f.Tag.Get("msgpack"), ","); tag == "-" {
				return fmt.Errorf("%w: field %s is skipped by its msgpack tag", ErrKeyType, name)
			}
			if err := checkKeyType(f.Type, name); err != nil {
				return err
			}
		}
	}
	return nil
}
