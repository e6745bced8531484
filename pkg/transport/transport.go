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

// Package transport defines the point-to-point messaging substrate shared by a
// group of cooperating processes. Implementations must preserve message order
// per (source, destination, channel) triple; nothing is promised about the
// interleaving of messages from different sources.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by Recv and by pending requests once a transport is closed.
var ErrClosed = errors.New("transport closed")

// Channel separates independent message streams on one transport so that
// collectives never interleave with accumulator traffic.
type Channel uint8

const (
	// Data carries accumulator traffic (host exchange, increments, counts).
	Data Channel = iota
	// Control carries group collectives (barrier, all-reduce).
	Control

	// NumChannels is the number of channels every transport must provide.
	NumChannels = 2
)

func (c Channel) String() string {
	switch c {
	case Data:
		return "data"
	case Control:
		return "control"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// Message is a received envelope. Tag meaning is owned by the protocol running
// on the channel.
type Message struct {
	From    int
	Tag     uint8
	Payload []byte
}

// Transport moves opaque payloads between ranks 0..Size()-1.
type Transport interface {
	// Rank is this endpoint's position in the group.
	Rank() int
	// Size is the number of endpoints in the group.
	Size() int
	// Send starts a non-blocking send. The payload must not be modified until
	// the returned request completes.
	Send(to int, ch Channel, tag uint8, payload []byte) *Request
	// Recv blocks until the next message on ch arrives from any source.
	Recv(ctx context.Context, ch Channel) (Message, error)
	// Close releases resources. Pending receives return ErrClosed.
	Close() error
}

// ValidPeer reports whether rank addresses a member of t's group.
func ValidPeer(t Transport, rank int) bool {
	return rank >= 0 && rank < t.Size()
}
