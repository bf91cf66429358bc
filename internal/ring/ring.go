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

// Package ring implements the two bounded ring buffers a channel can run
// on: a mutex-and-condvar MPMC ring and a lock-free single-producer
// single-consumer ring. Both operate over raw shared memory handed to them
// by the channel layer: a state area holding cursors and primitives, and a
// slot area holding the elements themselves.
package ring

import (
	"time"
	"unsafe"

	"github.com/kevinjoseph1995/pika/codes"
	"github.com/kevinjoseph1995/pika/status"
)

// A Ring moves fixed-size elements through a bounded buffer in shared
// memory. Timeouts are wall-clock budgets; a negative timeout blocks
// forever and a codes.Timeout return leaves the ring untouched.
//
// The Try variants do not wait for space or data: a full or empty ring is
// reported with iox.ErrWouldBlock so callers can distinguish backpressure
// from failure. On the locked ring they still take the ring mutex without
// a deadline, so they wait while another endpoint holds it, including
// across an acquired zero-copy slot.
//
// The slot methods expose elements in place. Acquire hands out a pointer
// into the ring; the element is not visible to the other side (write) or
// recycled (read) until the matching commit or release with that same
// pointer.
type Ring interface {
	PushFront(src []byte, timeout time.Duration) error
	PopBack(dst []byte, timeout time.Duration) error

	TryPush(src []byte) error
	TryPop(dst []byte) error

	AcquireWriteSlot(timeout time.Duration) (unsafe.Pointer, error)
	CommitWriteSlot(slot unsafe.Pointer) error
	AcquireReadSlot(timeout time.Duration) (unsafe.Pointer, error)
	ReleaseReadSlot(slot unsafe.Pointer) error
}

// validateLayout checks the pointers the channel layer hands us.
func validateLayout(state, slots unsafe.Pointer, elemSize, elemAlign, queueLen uint64) error {
	if state == nil || slots == nil {
		return status.New(codes.RingBuffer, "ring buffer base pointer is nil")
	}
	if queueLen == 0 {
		return status.New(codes.RingBuffer, "ring buffer length must be at least 1")
	}
	if elemSize == 0 {
		return status.New(codes.RingBuffer, "ring buffer element size must be non-zero")
	}
	if elemAlign == 0 || elemAlign&(elemAlign-1) != 0 {
		return status.Newf(codes.RingBuffer, "ring buffer element alignment %d is not a power of two", elemAlign)
	}
	if uintptr(state)%8 != 0 {
		return status.Newf(codes.RingBuffer, "ring buffer state pointer %p is not 8-byte aligned", state)
	}
	if uintptr(slots)%uintptr(elemAlign) != 0 {
		return status.Newf(codes.RingBuffer, "ring buffer slot pointer %p is not aligned to %d", slots, elemAlign)
	}
	return nil
}
