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

// Package codes defines the error kinds used across the pika channel
// library. Every error surfaced by the library carries exactly one code,
// except iox.ErrWouldBlock from the non-blocking Try operations.
package codes

import "strconv"

// A Code identifies the subsystem that produced an error, or Timeout for
// any blocking operation whose deadline expired.
type Code uint32

const (
	// Unknown is the fallback code for errors that do not fit any other kind.
	Unknown Code = iota

	// SharedBuffer covers shared-memory open/stat/truncate/mmap failures and
	// name validation errors.
	SharedBuffer

	// SyncPrimitive covers mutex, condition variable and semaphore
	// initialization or operation failures, including use-before-init.
	SyncPrimitive

	// RingBuffer covers nil or misaligned base pointers, parameter mismatch
	// when attaching to an existing channel, and zero-copy operations on a
	// ring variant that does not support them.
	RingBuffer

	// Channel covers channel-level configuration errors.
	Channel

	// Timeout is returned by any blocking operation whose deadline expired.
	// A Timeout error never leaves partial state behind.
	Timeout
)

func (c Code) String() string {
	switch c {
	case Unknown:
		return "Unknown"
	case SharedBuffer:
		return "SharedBuffer"
	case SyncPrimitive:
		return "SyncPrimitive"
	case RingBuffer:
		return "RingBuffer"
	case Channel:
		return "Channel"
	case Timeout:
		return "Timeout"
	default:
		return "Code(" + strconv.FormatUint(uint64(c), 10) + ")"
	}
}
