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

package transport

import (
	"context"
	"sync"
)

// Request is the handle of a non-blocking send. It completes exactly once,
// either when the payload has been handed to the substrate or with an error.
type Request struct {
	done chan struct{}
	once sync.Once
	err  error
}

// NewRequest returns a pending request.
func NewRequest() *Request {
	return &Request{done: make(chan struct{})}
}

// Completed returns a request that has already finished with err.
func Completed(err error) *Request {
	r := NewRequest()
	r.Complete(err)
	return r
}

// Complete marks the request finished. Later calls are ignored.
func (r *Request) Complete(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Done reports whether the request has finished without blocking.
func (r *Request) Done() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the request finishes or ctx is cancelled.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitAll waits for every request and returns the first error encountered.
// All requests are waited on even after an error so buffers can be reused.
func WaitAll(ctx context.Context, reqs []*Request) error {
	var first error
	for _, r := range reqs {
		if err := r.Wait(ctx); err != nil && first == nil {
			first = err
			if ctx.Err() != nil {
				return first
			}
		}
	}
	return first
}
