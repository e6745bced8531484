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

// Package redisbus is a transport.Transport over Redis lists. Every (rank,
// channel) pair has one inbox list; senders RPUSH framed messages onto it and
// the owner BLPOPs them. A single sender goroutine per destination keeps
// messages to that destination in order.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"bigmap/pkg/transport"
)

const (
	DefaultPrefix      = "bigmap"
	DefaultPollTimeout = 250 * time.Millisecond
	DefaultQueueDepth  = 1024
	flushTimeout       = 5 * time.Second
)

// Options configures one rank's endpoint.
type Options struct {
	// Prefix namespaces the inbox keys. Ranks of one group must share it and
	// concurrent groups must not.
	Prefix string
	Rank   int
	Size   int
	// PollTimeout bounds each blocking pop so Recv can notice cancellation.
	PollTimeout time.Duration
	// QueueDepth is the per-destination backlog before Send blocks.
	QueueDepth int
	Logger     *zap.Logger
}

// InboxKey is the list holding rank's messages on ch.
func InboxKey(prefix string, rank int, ch transport.Channel) string {
	return fmt.Sprintf("%s:inbox:%d:%s", prefix, rank, ch)
}

// frame is the on-list envelope.
type frame struct {
	_msgpack struct{} `msgpack:",as_array"`
	From     int
	Tag      uint8
	Payload  []byte
}

type outbound struct {
	key  string
	data []byte
	req  *transport.Request
}

// Transport is one rank's endpoint.
type Transport struct {
	client  ListClient
	opts    Options
	log     *zap.Logger
	queues  []chan outbound
	inboxes [transport.NumChannels]string

	// mu is held shared by Send while it enqueues, so Close can wait out
	// in-flight sends before the sender goroutines flush and exit.
	mu       sync.RWMutex
	stopChan chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

var _ transport.Transport = (*Transport)(nil)

// New validates opts and starts one sender goroutine per destination.
func New(client ListClient, opts Options) (*Transport, error) {
	if client == nil {
		return nil, errors.New("redisbus: nil client")
	}
	if opts.Size <= 0 || opts.Rank < 0 || opts.Rank >= opts.Size {
		return nil, fmt.Errorf("redisbus: rank %d outside group of %d", opts.Rank, opts.Size)
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	t := &Transport{
		client:   client,
		opts:     opts,
		log:      opts.Logger.With(zap.Int("rank", opts.Rank)),
		queues:   make([]chan outbound, opts.Size),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for c := range t.inboxes {
		t.inboxes[c] = InboxKey(opts.Prefix, opts.Rank, transport.Channel(c))
	}
	t.wg.Add(opts.Size)
	for to := range t.queues {
		t.queues[to] = make(chan outbound, opts.QueueDepth)
		go func(q chan outbound) {
			defer t.wg.Done()
			t.sendLoop(q)
		}(t.queues[to])
	}
	return t, nil
}

func (t *Transport) Rank() int { return t.opts.Rank }

func (t *Transport) Size() int { return t.opts.Size }

// Send frames payload and queues it for the destination's sender goroutine.
// The payload is copied before Send returns.
func (t *Transport) Send(to int, ch transport.Channel, tag uint8, payload []byte) *transport.Request {
	if !transport.ValidPeer(t, to) {
		return transport.Completed(fmt.Errorf("redisbus: send to rank %d out of range", to))
	}
	if int(ch) >= transport.NumChannels {
		return transport.Completed(fmt.Errorf("redisbus: unknown %s", ch))
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if atomic.LoadUint32(&t.stopped) == 1 {
		return transport.Completed(transport.ErrClosed)
	}
	data, err := msgpack.Marshal(&frame{From: t.opts.Rank, Tag: tag, Payload: payload})
	if err != nil {
		return transport.Completed(fmt.Errorf("redisbus: encode frame: %w", err))
	}
	req := transport.NewRequest()
	select {
	case t.queues[to] <- outbound{key: InboxKey(t.opts.Prefix, to, ch), data: data, req: req}:
	case <-t.stopChan:
		req.Complete(transport.ErrClosed)
	}
	return req
}

// sendLoop pushes queued frames in order. On stop it flushes whatever is
// still queued before exiting.
func (t *Transport) sendLoop(q chan outbound) {
	for {
		select {
		case o := <-q:
			o.req.Complete(t.client.Push(context.Background(), o.key, o.data))
		case <-t.done:
			t.flush(q)
			return
		}
	}
}

func (t *Transport) flush(q chan outbound) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case o := <-q:
			err := t.client.Push(ctx, o.key, o.data)
			if err != nil {
				t.log.Warn("dropping queued frame on close", zap.String("key", o.key), zap.Error(err))
			}
			o.req.Complete(err)
		default:
			return
		}
	}
}

// Recv pops the next frame from this rank's inbox on ch.
func (t *Transport) Recv(ctx context.Context, ch transport.Channel) (transport.Message, error) {
	if int(ch) >= transport.NumChannels {
		return transport.Message{}, fmt.Errorf("redisbus: unknown %s", ch)
	}
	for {
		if atomic.LoadUint32(&t.stopped) == 1 {
			return transport.Message{}, transport.ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return transport.Message{}, err
		}
		data, ok, err := t.client.Pop(ctx, t.inboxes[ch], t.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return transport.Message{}, ctx.Err()
			}
			return transport.Message{}, fmt.Errorf("redisbus: pop %s: %w", t.inboxes[ch], err)
		}
		if !ok {
			continue
		}
		var f frame
		if err := msgpack.Unmarshal(data, &f); err != nil {
			return transport.Message{}, fmt.Errorf("redisbus: decode frame: %w", err)
		}
		return transport.Message{From: f.From, Tag: f.Tag, Payload: f.Payload}, nil
	}
}

// Close stops the sender goroutines after flushing queued frames. Receives
// return transport.ErrClosed within one poll interval.
func (t *Transport) Close() error {
	if !atomic.CompareAndSwapUint32(&t.stopped, 0, 1) {
		return nil
	}
	close(t.stopChan)
	t.mu.Lock()
	close(t.done)
	t.mu.Unlock()
	t.wg.Wait()
	return nil
}
