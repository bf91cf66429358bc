/*
 *
 * Copyright 2025 The Pika Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package pika

import (
	"time"
	"unsafe"

	"github.com/kevinjoseph1995/pika/internal/channel"
)

// A Producer is the sending endpoint of a channel. A single Producer value
// must not be used from multiple goroutines at once; open one endpoint per
// sender instead.
type Producer[T any] struct {
	ch *channel.Channel
}

// CreateProducer opens the producer end of the channel described by
// params, creating the channel if this is its first endpoint.
func CreateProducer[T any](params ChannelParameters) (*Producer[T], error) {
	ch, err := openChannel[T](params, channel.SideProducer)
	if err != nil {
		return nil, err
	}
	return &Producer[T]{ch: ch}, nil
}

// Send copies value into the channel, blocking while it is full. Pass
// Infinite to wait without a deadline; on a Timeout return nothing was
// enqueued.
func (p *Producer[T]) Send(value T, timeout time.Duration) error {
	return p.ch.Ring().PushFront(valueBytes(&value), timeout)
}

// TrySend copies value into the channel if there is room, returning
// iox.ErrWouldBlock from a full channel.
func (p *Producer[T]) TrySend(value T) error {
	return p.ch.Ring().TryPush(valueBytes(&value))
}

// GetSendSlot waits for a free slot and returns a pointer into the
// channel's memory for in-place construction. The slot is invisible to
// consumers, and the channel is unavailable to other endpoints, until
// ReleaseSendSlot. Unavailable on SPSC channels.
func (p *Producer[T]) GetSendSlot(timeout time.Duration) (*T, error) {
	slot, err := p.ch.Ring().AcquireWriteSlot(timeout)
	if err != nil {
		return nil, err
	}
	return (*T)(slot), nil
}

// ReleaseSendSlot publishes a slot obtained from GetSendSlot. The pointer
// must be exactly the one GetSendSlot returned.
func (p *Producer[T]) ReleaseSendSlot(slot *T) error {
	return p.ch.Ring().CommitWriteSlot(unsafe.Pointer(slot))
}

// Connect blocks until at least one consumer is attached.
func (p *Producer[T]) Connect() error {
	return p.ch.Connect()
}

// IsConnected reports whether at least one consumer is attached right now.
func (p *Producer[T]) IsConnected() bool {
	return p.ch.IsConnected()
}

// Close detaches the producer. The last endpoint to leave an inter-process
// channel removes its name from the system.
func (p *Producer[T]) Close() error {
	return p.ch.Close()
}

// valueBytes views a value as its raw bytes. Element types are validated
// pointer-free at endpoint creation, so the bytes are self-contained.
func valueBytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}
