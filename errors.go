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

package bigmap

import (
	"errors"
	"fmt"
)

var (
	// ErrSendOverflow means a per-peer send counter would collide with the
	// reserved "unknown" value. The episode cannot be completed correctly.
	ErrSendOverflow = errors.New("bigmap: send counter overflow")
	// ErrProtocolViolation means a peer sent a message that is impossible
	// under the accumulation protocol.
	ErrProtocolViolation = errors.New("bigmap: protocol violation")
)

// fatal hands err to the OnFatal hook. When the hook returns, err is passed
// back to the caller.
func (m *Map[K, V]) fatal(err error) error {
	m.onFatal(err)
	return err
}

func (m *Map[K, V]) violation(format string, args ...any) error {
	return m.fatal(fmt.Errorf("%w: "+format, append([]any{ErrProtocolViolation}, args...)...))
}
