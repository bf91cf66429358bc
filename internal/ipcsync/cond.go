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

package ipcsync

import (
	"sync/atomic"
	"time"

	"github.com/kevinjoseph1995/pika/codes"
	"github.com/kevinjoseph1995/pika/status"
)

// A Cond is a condition variable backed by a futex sequence word. Signal
// bumps the sequence and wakes one waiter; waiters snapshot the sequence
// under the lock, release it, and sleep until the sequence moves on.
// Spurious wakeups are absorbed by the predicate loop.
type Cond struct {
	seq    uint32
	flags  uint32
	inited uint32
}

// Init prepares the condition variable for use. crossProcess must match the
// setting of the mutex it will be paired with.
func (c *Cond) Init(crossProcess bool) {
	atomic.StoreUint32(&c.seq, 0)
	var flags uint32
	if crossProcess {
		flags = mutexCrossProcess
	}
	atomic.StoreUint32(&c.flags, flags)
	atomic.StoreUint32(&c.inited, initMagic)
}

func (c *Cond) ready() bool {
	return atomic.LoadUint32(&c.inited) == initMagic
}

func (c *Cond) shared() bool {
	return atomic.LoadUint32(&c.flags)&mutexCrossProcess != 0
}

// Signal wakes one waiter. The caller need not hold the associated mutex,
// and signaling with no waiters is a no-op.
func (c *Cond) Signal() error {
	if !c.ready() {
		return status.New(codes.SyncPrimitive, "condition variable used before initialization")
	}
	atomic.AddUint32(&c.seq, 1)
	if _, err := futexWake(&c.seq, 1, c.shared()); err != nil {
		return status.Newf(codes.SyncPrimitive, "condition signal: %v", err)
	}
	return nil
}

// Wait blocks until pred returns true. guard must hold the mutex protecting
// the state pred reads; the mutex is released while sleeping and held again
// both when pred runs and when Wait returns. A kernel-level wait failure is
// surfaced as a codes.SyncPrimitive error with the mutex re-acquired.
func (c *Cond) Wait(guard LockedMutex, pred func() bool) error {
	if !c.ready() {
		return status.New(codes.SyncPrimitive, "condition variable used before initialization")
	}
	for !pred() {
		snap := atomic.LoadUint32(&c.seq)
		guard.Unlock()
		waitErr := futexWait(&c.seq, snap, c.shared())
		if _, err := guard.m.Lock(); err != nil {
			return err
		}
		if waitErr != nil {
			return status.Newf(codes.SyncPrimitive, "condition wait: %v", waitErr)
		}
	}
	return nil
}

// WaitTimed is Wait with a deadline. A negative timeout waits forever. On
// expiry it returns a codes.Timeout error with the mutex re-acquired and
// the protected state untouched; if pred turned true right at the deadline
// the wait still succeeds.
func (c *Cond) WaitTimed(guard LockedMutex, pred func() bool, timeout time.Duration) error {
	if timeout < 0 {
		return c.Wait(guard, pred)
	}
	if !c.ready() {
		return status.New(codes.SyncPrimitive, "condition variable used before initialization")
	}
	sw := NewStopwatch()
	for !pred() {
		remaining := timeout - sw.Elapsed()
		if remaining <= 0 {
			return status.New(codes.Timeout, "timed out waiting on condition")
		}
		snap := atomic.LoadUint32(&c.seq)
		guard.Unlock()
		waitErr := futexWaitTimeout(&c.seq, snap, remaining.Nanoseconds(), c.shared())
		if _, err := guard.m.Lock(); err != nil {
			return err
		}
		if waitErr != nil && waitErr != ErrFutexTimeout {
			return status.Newf(codes.SyncPrimitive, "condition wait: %v", waitErr)
		}
	}
	return nil
}
