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

package ring

import (
	"time"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"

	"github.com/kevinjoseph1995/pika/codes"
	"github.com/kevinjoseph1995/pika/internal/ipcsync"
	"github.com/kevinjoseph1995/pika/status"
)

type pad [64]byte

// spscState is the shared portion of the lock-free ring: the two cursors,
// each on its own cache line so producer and consumer do not false-share.
//
// Cursors hold slot positions in [0, internalLen) and wrap explicitly.
// head == tail means empty; (tail+1) % internalLen == head means full. One
// slot is sacrificed to tell the two apart.
type spscState struct {
	_    pad
	head atomix.Uint64 // consumer reads from here
	_    pad
	tail atomix.Uint64 // producer writes here
	_    pad
}

// SPSCStateSize is the number of bytes of shared memory the lock-free ring
// state occupies.
const SPSCStateSize = uint64(unsafe.Sizeof(spscState{}))

// SPSC is a single-producer single-consumer bounded ring based on
// Lamport's ring buffer with cached peer cursors. There is no blocking
// primitive; full and empty are waited out by spinning, so it trades CPU
// for latency on the paths where a channel carries exactly one endpoint of
// each kind.
type SPSC struct {
	state       *spscState
	slots       unsafe.Pointer
	internalLen uint64 // queueLen + 1, counting the sacrificed slot
	elemSize    uint64

	cachedHead uint64 // producer's view of head
	cachedTail uint64 // consumer's view of tail
}

// InitSPSC constructs a fresh lock-free ring in the given areas. queueLen
// is the usable capacity; the slot area must hold queueLen+1 elements.
func InitSPSC(state, slots unsafe.Pointer, elemSize, elemAlign, queueLen uint64) (*SPSC, error) {
	if err := validateLayout(state, slots, elemSize, elemAlign, queueLen); err != nil {
		return nil, err
	}
	s := (*spscState)(state)
	s.head.Store(0)
	s.tail.Store(0)
	return &SPSC{state: s, slots: slots, internalLen: queueLen + 1, elemSize: elemSize}, nil
}

// AttachSPSC joins a lock-free ring that another endpoint already
// initialized in the given areas.
func AttachSPSC(state, slots unsafe.Pointer, elemSize, elemAlign, queueLen uint64) (*SPSC, error) {
	if err := validateLayout(state, slots, elemSize, elemAlign, queueLen); err != nil {
		return nil, err
	}
	return &SPSC{state: (*spscState)(state), slots: slots, internalLen: queueLen + 1, elemSize: elemSize}, nil
}

func (r *SPSC) slotBytes(i uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Add(r.slots, uintptr(i*r.elemSize))), r.elemSize)
}

// TryPush copies src into the ring, returning iox.ErrWouldBlock if it is
// full. Producer side only.
func (r *SPSC) TryPush(src []byte) error {
	if uint64(len(src)) != r.elemSize {
		return status.Newf(codes.RingBuffer, "push of %d bytes into ring with %d byte elements", len(src), r.elemSize)
	}
	tail := r.state.tail.LoadRelaxed()
	next := tail + 1
	if next == r.internalLen {
		next = 0
	}
	if next == r.cachedHead {
		r.cachedHead = r.state.head.LoadAcquire()
		if next == r.cachedHead {
			return iox.ErrWouldBlock
		}
	}
	copy(r.slotBytes(tail), src)
	r.state.tail.StoreRelease(next)
	return nil
}

// TryPop copies the oldest element into dst, returning iox.ErrWouldBlock
// if the ring is empty. Consumer side only.
func (r *SPSC) TryPop(dst []byte) error {
	if uint64(len(dst)) != r.elemSize {
		return status.Newf(codes.RingBuffer, "pop of %d bytes from ring with %d byte elements", len(dst), r.elemSize)
	}
	head := r.state.head.LoadRelaxed()
	if head == r.cachedTail {
		r.cachedTail = r.state.tail.LoadAcquire()
		if head == r.cachedTail {
			return iox.ErrWouldBlock
		}
	}
	copy(dst, r.slotBytes(head))
	next := head + 1
	if next == r.internalLen {
		next = 0
	}
	r.state.head.StoreRelease(next)
	return nil
}

// PushFront copies src into the ring, spinning while it is full. A
// negative timeout spins forever.
func (r *SPSC) PushFront(src []byte, timeout time.Duration) error {
	sw := ipcsync.NewStopwatch()
	w := spin.Wait{}
	for {
		err := r.TryPush(src)
		if !iox.IsWouldBlock(err) {
			return err
		}
		if timeout >= 0 && sw.Elapsed() >= timeout {
			return status.New(codes.Timeout, "timed out pushing into full ring")
		}
		w.Once()
	}
}

// PopBack copies the oldest element into dst, spinning while the ring is
// empty. A negative timeout spins forever.
func (r *SPSC) PopBack(dst []byte, timeout time.Duration) error {
	sw := ipcsync.NewStopwatch()
	w := spin.Wait{}
	for {
		err := r.TryPop(dst)
		if !iox.IsWouldBlock(err) {
			return err
		}
		if timeout >= 0 && sw.Elapsed() >= timeout {
			return status.New(codes.Timeout, "timed out popping from empty ring")
		}
		w.Once()
	}
}

// errNoZeroCopy reports the one operation family this ring does not have.
func errNoZeroCopy() error {
	return status.New(codes.RingBuffer, "zero-copy slot operations are not supported by the lock-free ring")
}

func (r *SPSC) AcquireWriteSlot(time.Duration) (unsafe.Pointer, error) { return nil, errNoZeroCopy() }
func (r *SPSC) CommitWriteSlot(unsafe.Pointer) error                   { return errNoZeroCopy() }
func (r *SPSC) AcquireReadSlot(time.Duration) (unsafe.Pointer, error)  { return nil, errNoZeroCopy() }
func (r *SPSC) ReleaseReadSlot(unsafe.Pointer) error                   { return errNoZeroCopy() }
