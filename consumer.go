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

// A Consumer is the receiving endpoint of a channel. A single Consumer
// value must not be used from multiple goroutines at once; open one
// endpoint per receiver instead.
type Consumer[T any] struct {
	ch *channel.Channel
}

// CreateConsumer opens the consumer end of the channel described by
// params, creating the channel if this is its first endpoint.
func CreateConsumer[T any](params ChannelParameters) (*Consumer[T], error) {
	ch, err := openChannel[T](params, channel.SideConsumer)
	if err != nil {
		return nil, err
	}
	return &Consumer[T]{ch: ch}, nil
}

// Receive copies the oldest element into dst, blocking while the channel
// is empty. Pass Infinite to wait without a deadline; on a Timeout return
// dst is untouched.
func (c *Consumer[T]) Receive(dst *T, timeout time.Duration) error {
	return c.ch.Ring().PopBack(valueBytes(dst), timeout)
}

// TryReceive copies the oldest element into dst if one exists, returning
// iox.ErrWouldBlock from an empty channel.
func (c *Consumer[T]) TryReceive(dst *T) error {
	return c.ch.Ring().TryPop(valueBytes(dst))
}

// GetReceiveSlot waits for an element and returns a pointer to it inside
// the channel's memory. The slot is not recycled, and the channel is
// unavailable to other endpoints, until ReleaseReceiveSlot. Unavailable on
// SPSC channels.
func (c *Consumer[T]) GetReceiveSlot(timeout time.Duration) (*T, error) {
	slot, err := c.ch.Ring().AcquireReadSlot(timeout)
	if err != nil {
		return nil, err
	}
	return (*T)(slot), nil
}

// ReleaseReceiveSlot recycles a slot obtained from GetReceiveSlot. The
// pointer must be exactly the one GetReceiveSlot returned.
func (c *Consumer[T]) ReleaseReceiveSlot(slot *T) error {
	return c.ch.Ring().ReleaseReadSlot(unsafe.Pointer(slot))
}

// Connect blocks until at least one producer is attached.
func (c *Consumer[T]) Connect() error {
	return c.ch.Connect()
}

// IsConnected reports whether at least one producer is attached right now.
func (c *Consumer[T]) IsConnected() bool {
	return c.ch.IsConnected()
}

// Close detaches the consumer. The last endpoint to leave an inter-process
// channel removes its name from the system.
func (c *Consumer[T]) Close() error {
	return c.ch.Close()
}
