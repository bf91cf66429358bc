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
	"log/slog"
	"time"
	"unsafe"

	"code.hybscloud.com/iox"

	"github.com/kevinjoseph1995/pika/codes"
	"github.com/kevinjoseph1995/pika/internal/ipcsync"
	"github.com/kevinjoseph1995/pika/status"
)

// lockedState is the shared portion of the MPMC ring. It sits in the
// mapped region, so it holds only futex words and cursors.
//
// Invariant under the mutex: count elements live in
// [readIndex, readIndex+count) modulo queueLen, and writeIndex ==
// (readIndex + count) % queueLen.
type lockedState struct {
	mutex      ipcsync.Mutex
	notEmpty   ipcsync.Cond
	notFull    ipcsync.Cond
	writeIndex uint64
	readIndex  uint64
	count      uint64
}

// LockedStateSize is the number of bytes of shared memory the MPMC ring
// state occupies.
const LockedStateSize = uint64(unsafe.Sizeof(lockedState{}))

// Locked is a multi-producer multi-consumer bounded ring guarded by one
// mutex and two condition variables. All blocking goes through the futex
// primitives, so producers and consumers may live in different processes.
//
// A Locked value is one endpoint's handle; the shared state lives behind
// the pointers given at construction. A single handle must not be used
// concurrently, matching the one-endpoint-per-goroutine channel contract.
type Locked struct {
	state    *lockedState
	slots    unsafe.Pointer
	queueLen uint64
	elemSize uint64

	// Zero-copy bookkeeping. The mutex stays held from acquire to
	// commit/release, so these never race.
	writeGuard ipcsync.LockedMutex
	writeSlot  unsafe.Pointer
	readGuard  ipcsync.LockedMutex
	readSlot   unsafe.Pointer
}

// InitLocked constructs a fresh MPMC ring in the given state and slot
// areas. Only the first endpoint of a channel runs Init; later endpoints
// attach.
func InitLocked(state, slots unsafe.Pointer, elemSize, elemAlign, queueLen uint64, crossProcess bool) (*Locked, error) {
	if err := validateLayout(state, slots, elemSize, elemAlign, queueLen); err != nil {
		return nil, err
	}
	s := (*lockedState)(state)
	s.mutex.Init(crossProcess)
	s.notEmpty.Init(crossProcess)
	s.notFull.Init(crossProcess)
	s.writeIndex = 0
	s.readIndex = 0
	s.count = 0
	return &Locked{state: s, slots: slots, queueLen: queueLen, elemSize: elemSize}, nil
}

// AttachLocked joins an MPMC ring that another endpoint already
// initialized in the given areas.
func AttachLocked(state, slots unsafe.Pointer, elemSize, elemAlign, queueLen uint64) (*Locked, error) {
	if err := validateLayout(state, slots, elemSize, elemAlign, queueLen); err != nil {
		return nil, err
	}
	return &Locked{state: (*lockedState)(state), slots: slots, queueLen: queueLen, elemSize: elemSize}, nil
}

func (r *Locked) slotAt(i uint64) unsafe.Pointer {
	return unsafe.Add(r.slots, uintptr(i*r.elemSize))
}

func (r *Locked) slotBytes(i uint64) []byte {
	return unsafe.Slice((*byte)(r.slotAt(i)), r.elemSize)
}

// lockFor acquires the ring mutex within the remaining budget of sw.
func (r *Locked) lockFor(sw ipcsync.Stopwatch, timeout time.Duration) (ipcsync.LockedMutex, error) {
	if timeout < 0 {
		return r.state.mutex.Lock()
	}
	remaining := timeout - sw.Elapsed()
	if remaining < 0 {
		remaining = 0
	}
	return r.state.mutex.LockTimed(remaining)
}

// waitFor runs a condition wait within the remaining budget of sw.
func waitFor(c *ipcsync.Cond, guard ipcsync.LockedMutex, pred func() bool, sw ipcsync.Stopwatch, timeout time.Duration) error {
	if timeout < 0 {
		return c.Wait(guard, pred)
	}
	remaining := timeout - sw.Elapsed()
	if remaining < 0 {
		remaining = 0
	}
	return c.WaitTimed(guard, pred, remaining)
}

func signal(c *ipcsync.Cond) {
	if err := c.Signal(); err != nil {
		slog.Error("ring signal failed", "error", err)
	}
}

// PushFront copies src into the next free slot, blocking while the ring is
// full. The lock acquisition and the wait for space share one timeout
// budget. On expiry nothing is copied and no cursor moves.
func (r *Locked) PushFront(src []byte, timeout time.Duration) error {
	if uint64(len(src)) != r.elemSize {
		return status.Newf(codes.RingBuffer, "push of %d bytes into ring with %d byte elements", len(src), r.elemSize)
	}
	sw := ipcsync.NewStopwatch()
	guard, err := r.lockFor(sw, timeout)
	if err != nil {
		return err
	}
	if err := waitFor(&r.state.notFull, guard, func() bool { return r.state.count < r.queueLen }, sw, timeout); err != nil {
		guard.Unlock()
		return err
	}
	copy(r.slotBytes(r.state.writeIndex), src)
	r.state.writeIndex = (r.state.writeIndex + 1) % r.queueLen
	r.state.count++
	guard.Unlock()
	// Signal after dropping the lock so the woken side does not immediately
	// block on the mutex.
	signal(&r.state.notEmpty)
	return nil
}

// PopBack copies the oldest element into dst, blocking while the ring is
// empty. On expiry nothing is copied and no cursor moves.
func (r *Locked) PopBack(dst []byte, timeout time.Duration) error {
	if uint64(len(dst)) != r.elemSize {
		return status.Newf(codes.RingBuffer, "pop of %d bytes from ring with %d byte elements", len(dst), r.elemSize)
	}
	sw := ipcsync.NewStopwatch()
	guard, err := r.lockFor(sw, timeout)
	if err != nil {
		return err
	}
	if err := waitFor(&r.state.notEmpty, guard, func() bool { return r.state.count > 0 }, sw, timeout); err != nil {
		guard.Unlock()
		return err
	}
	copy(dst, r.slotBytes(r.state.readIndex))
	r.state.readIndex = (r.state.readIndex + 1) % r.queueLen
	r.state.count--
	guard.Unlock()
	signal(&r.state.notFull)
	return nil
}

// TryPush copies src into the ring if there is space, returning
// iox.ErrWouldBlock from a full ring.
func (r *Locked) TryPush(src []byte) error {
	if uint64(len(src)) != r.elemSize {
		return status.Newf(codes.RingBuffer, "push of %d bytes into ring with %d byte elements", len(src), r.elemSize)
	}
	guard, err := r.state.mutex.Lock()
	if err != nil {
		return err
	}
	if r.state.count == r.queueLen {
		guard.Unlock()
		return iox.ErrWouldBlock
	}
	copy(r.slotBytes(r.state.writeIndex), src)
	r.state.writeIndex = (r.state.writeIndex + 1) % r.queueLen
	r.state.count++
	guard.Unlock()
	signal(&r.state.notEmpty)
	return nil
}

// TryPop copies the oldest element into dst if one exists, returning
// iox.ErrWouldBlock from an empty ring.
func (r *Locked) TryPop(dst []byte) error {
	if uint64(len(dst)) != r.elemSize {
		return status.Newf(codes.RingBuffer, "pop of %d bytes from ring with %d byte elements", len(dst), r.elemSize)
	}
	guard, err := r.state.mutex.Lock()
	if err != nil {
		return err
	}
	if r.state.count == 0 {
		guard.Unlock()
		return iox.ErrWouldBlock
	}
	copy(dst, r.slotBytes(r.state.readIndex))
	r.state.readIndex = (r.state.readIndex + 1) % r.queueLen
	r.state.count--
	guard.Unlock()
	signal(&r.state.notFull)
	return nil
}

// AcquireWriteSlot waits for a free slot and returns a pointer to it. The
// ring mutex remains held until CommitWriteSlot, so the producer may fill
// the slot in place without the element becoming visible early.
func (r *Locked) AcquireWriteSlot(timeout time.Duration) (unsafe.Pointer, error) {
	if r.writeSlot != nil {
		return nil, status.New(codes.RingBuffer, "write slot already acquired on this endpoint")
	}
	sw := ipcsync.NewStopwatch()
	guard, err := r.lockFor(sw, timeout)
	if err != nil {
		return nil, err
	}
	if err := waitFor(&r.state.notFull, guard, func() bool { return r.state.count < r.queueLen }, sw, timeout); err != nil {
		guard.Unlock()
		return nil, err
	}
	r.writeGuard = guard
	r.writeSlot = r.slotAt(r.state.writeIndex)
	return r.writeSlot, nil
}

// CommitWriteSlot publishes the slot returned by AcquireWriteSlot and
// releases the ring mutex. A pointer that did not come from the matching
// acquire is rejected and nothing is committed.
func (r *Locked) CommitWriteSlot(slot unsafe.Pointer) error {
	if r.writeSlot == nil {
		return status.New(codes.RingBuffer, "no write slot acquired on this endpoint")
	}
	if slot != r.writeSlot {
		return status.Newf(codes.RingBuffer, "commit of pointer %p does not match acquired write slot %p", slot, r.writeSlot)
	}
	r.state.writeIndex = (r.state.writeIndex + 1) % r.queueLen
	r.state.count++
	guard := r.writeGuard
	r.writeSlot = nil
	r.writeGuard = ipcsync.LockedMutex{}
	guard.Unlock()
	signal(&r.state.notEmpty)
	return nil
}

// AcquireReadSlot waits for an element and returns a pointer to it. The
// ring mutex remains held until ReleaseReadSlot, so the consumer may read
// the slot in place before it is recycled.
func (r *Locked) AcquireReadSlot(timeout time.Duration) (unsafe.Pointer, error) {
	if r.readSlot != nil {
		return nil, status.New(codes.RingBuffer, "read slot already acquired on this endpoint")
	}
	sw := ipcsync.NewStopwatch()
	guard, err := r.lockFor(sw, timeout)
	if err != nil {
		return nil, err
	}
	if err := waitFor(&r.state.notEmpty, guard, func() bool { return r.state.count > 0 }, sw, timeout); err != nil {
		guard.Unlock()
		return nil, err
	}
	r.readGuard = guard
	r.readSlot = r.slotAt(r.state.readIndex)
	return r.readSlot, nil
}

// ReleaseReadSlot recycles the slot returned by AcquireReadSlot and
// releases the ring mutex. A pointer that did not come from the matching
// acquire is rejected and nothing is released.
func (r *Locked) ReleaseReadSlot(slot unsafe.Pointer) error {
	if r.readSlot == nil {
		return status.New(codes.RingBuffer, "no read slot acquired on this endpoint")
	}
	if slot != r.readSlot {
		return status.Newf(codes.RingBuffer, "release of pointer %p does not match acquired read slot %p", slot, r.readSlot)
	}
	r.state.readIndex = (r.state.readIndex + 1) % r.queueLen
	r.state.count--
	guard := r.readGuard
	r.readSlot = nil
	r.readGuard = ipcsync.LockedMutex{}
	guard.Unlock()
	signal(&r.state.notFull)
	return nil
}
