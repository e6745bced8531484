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

package wire

import (
	"errors"
	"reflect"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

type ptKey struct {
	Det      string
	Category uint8
}

func TestCodec_KVRoundTripIntoReusedSlot(t *testing.T) {
	c, err := NewCodec(Entry[ptKey, float64]{Key: ptKey{Det: "0011", Category: 1}})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	if c.Footprint() <= 0 {
		t.Fatalf("expected positive footprint, got %d", c.Footprint())
	}

	slot := make([]byte, 0, c.Footprint())
	slot, err = c.AppendKV(slot, ptKey{Det: "1100", Category: 3}, 2.5)
	if err != nil {
		t.Fatalf("AppendKV: %v", err)
	}
	k, v, err := c.DecodeKV(slot)
	if err != nil {
		t.Fatalf("DecodeKV: %v", err)
	}
	if k != (ptKey{Det: "1100", Category: 3}) || v != 2.5 {
		t.Fatalf("round trip mismatch: %+v %v", k, v)
	}

	// The slot is overwritten in place on reuse.
	slot, _ = c.AppendKV(slot, ptKey{Det: "1", Category: 0}, -1)
	k, v, _ = c.DecodeKV(slot)
	if k.Det != "1" || v != -1 {
		t.Fatalf("reused slot decoded to %+v %v", k, v)
	}
}

// packedKey keeps its fields unexported and encodes them itself.
type packedKey struct{ up, dn uint64 }

func (k packedKey) EncodeMsgpack(enc *msgpack.Encoder) error { return enc.EncodeMulti(k.up, k.dn) }

func (k *packedKey) DecodeMsgpack(dec *msgpack.Decoder) error { return dec.DecodeMulti(&k.up, &k.dn) }

func TestCheckKeyType(t *testing.T) {
	type hidden struct{ up, dn uint64 }
	type skipped struct {
		Up   uint64
		Note string `msgpack:"-"`
	}
	type nested struct {
		Pair  ptKey
		Cells [2]uint32
	}
	type nestedHidden struct {
		Pair  ptKey
		Inner hidden
	}
	cases := []struct {
		typ reflect.Type
		ok  bool
	}{
		{reflect.TypeFor[string](), true},
		{reflect.TypeFor[float64](), true},
		{reflect.TypeFor[ptKey](), true},
		{reflect.TypeFor[[3]ptKey](), true},
		{reflect.TypeFor[nested](), true},
		{reflect.TypeFor[packedKey](), true},
		{reflect.TypeFor[hidden](), false},
		{reflect.TypeFor[skipped](), false},
		{reflect.TypeFor[nestedHidden](), false},
		{reflect.TypeFor[[2]hidden](), false},
		{reflect.TypeFor[*int](), false},
		{reflect.TypeFor[any](), false},
	}
	for _, c := range cases {
		err := CheckKeyType(c.typ)
		if c.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", c.typ, err)
		}
		if !c.ok && !errors.Is(err, ErrKeyType) {
			t.Fatalf("%s: expected ErrKeyType, got %v", c.typ, err)
		}
	}
}

func TestCodec_SelfEncodingKeyKeepsUnexportedFields(t *testing.T) {
	c, err := NewCodec(Entry[packedKey, int64]{Key: packedKey{1, 1}})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	for _, want := range []packedKey{{1, 1}, {2, 3}, {1 << 60, 9}} {
		b, err := c.AppendKV(nil, want, 4)
		if err != nil {
			t.Fatalf("AppendKV: %v", err)
		}
		k, v, err := c.DecodeKV(b)
		if err != nil {
			t.Fatalf("DecodeKV: %v", err)
		}
		if k != want || v != 4 {
			t.Fatalf("decoded %+v=%d, want %+v=4", k, v, want)
		}
	}
}

func TestCodec_DecodeGarbage(t *testing.T) {
	c, _ := NewCodec(Entry[string, int64]{})
	if _, _, err := c.DecodeKV([]byte{0xc1}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestCount(t *testing.T) {
	n, err := DecodeCount(EncodeCount(1<<40 + 7))
	if err != nil || n != 1<<40+7 {
		t.Fatalf("count round trip: %d %v", n, err)
	}
	for _, bad := range [][]byte{nil, {1, 2, 3}, make([]byte, 9)} {
		if _, err := DecodeCount(bad); !errors.Is(err, ErrMalformed) {
			t.Fatalf("expected ErrMalformed for %d bytes", len(bad))
		}
	}
}

func TestNodeInfo(t *testing.T) {
	h, err := DecodeNodeInfo(EncodeNodeInfo("node-7.cluster"))
	if err != nil || h != "node-7.cluster" {
		t.Fatalf("host round trip: %q %v", h, err)
	}
	if _, err := DecodeNodeInfo(nil); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for empty host")
	}
}

func TestTagString(t *testing.T) {
	cases := map[Tag]string{NodeInfo: "NODE_INFO", KV: "KV", TrunkFinish: "TRUNK_FINISH", Finish: "FINISH", Tag(9): "TAG(9)"}
	for tag, want := range cases {
		if tag.String() != want {
			t.Errorf("Tag(%d).String() = %q, want %q", uint8(tag), tag.String(), want)
		}
	}
}
