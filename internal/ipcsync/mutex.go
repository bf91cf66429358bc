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

// Package ipcsync provides synchronization primitives that live inside a
// shared byte region and work across process boundaries. All primitives are
// built on futex words; there are no pointers in any of the shared structs,
// so they can be placed directly into mapped memory.
package ipcsync

import (
	"log/slog"
	"sync/atomic"
	"time"

	"code.hybscloud.com/spin"

	"github.com/kevinjoseph1995/pika/codes"
	"github.com/kevinjoseph1995/pika/status"
)

// Mutex states. A contended waiter parks on the futex word only after
// marking the mutex contended, so Unlock knows when a wake is needed.
const (
	mutexUnlocked  = 0
	mutexLocked    = 1
	mutexContended = 2
)

// initMagic marks a primitive as initialized. Freshly mapped shared memory
// is zero-filled, so an uninitialized primitive never carries this value.
const initMagic uint32 = 0x70696b61

// mutexSpinCount bounds the adaptive spin before a lock attempt falls back
// to sleeping in the kernel.
const mutexSpinCount = 64

// A Mutex is a non-recursive mutual exclusion lock backed by a futex word.
// It must be initialized with Init before use and must not be copied after
// first use. The zero value reports use-before-init errors from Lock.
type Mutex struct {
	state  uint32
	flags  uint32
	inited uint32
}

const mutexCrossProcess uint32 = 1

// Init prepares the mutex for use. crossProcess selects futex operations
// that work across address spaces; single-process users get the cheaper
// private variants.
func (m *Mutex) Init(crossProcess bool) {
	atomic.StoreUint32(&m.state, mutexUnlocked)
	var flags uint32
	if crossProcess {
		flags = mutexCrossProcess
	}
	atomic.StoreUint32(&m.flags, flags)
	atomic.StoreUint32(&m.inited, initMagic)
}

func (m *Mutex) ready() bool {
	return atomic.LoadUint32(&m.inited) == initMagic
}

func (m *Mutex) shared() bool {
	return atomic.LoadUint32(&m.flags)&mutexCrossProcess != 0
}

// Lock acquires the mutex, blocking until it is available. The returned
// LockedMutex is proof of acquisition and releases the mutex via Unlock.
func (m *Mutex) Lock() (LockedMutex, error) {
	if !m.ready() {
		return LockedMutex{}, status.New(codes.SyncPrimitive, "mutex used before initialization")
	}
	if m.tryAcquire() {
		return LockedMutex{m: m}, nil
	}
	for atomic.SwapUint32(&m.state, mutexContended) != mutexUnlocked {
		if err := futexWait(&m.state, mutexContended, m.shared()); err != nil {
			return LockedMutex{}, status.Newf(codes.SyncPrimitive, "mutex lock: %v", err)
		}
	}
	return LockedMutex{m: m}, nil
}

// LockTimed acquires the mutex, giving up after timeout. A negative timeout
// means wait forever. On expiry it returns a codes.Timeout error and the
// mutex is not held.
func (m *Mutex) LockTimed(timeout time.Duration) (LockedMutex, error) {
	if timeout < 0 {
		return m.Lock()
	}
	if !m.ready() {
		return LockedMutex{}, status.New(codes.SyncPrimitive, "mutex used before initialization")
	}
	sw := NewStopwatch()
	if m.tryAcquire() {
		return LockedMutex{m: m}, nil
	}
	for atomic.SwapUint32(&m.state, mutexContended) != mutexUnlocked {
		remaining := timeout - sw.Elapsed()
		if remaining <= 0 {
			return LockedMutex{}, status.New(codes.Timeout, "timed out acquiring mutex")
		}
		err := futexWaitTimeout(&m.state, mutexContended, remaining.Nanoseconds(), m.shared())
		if err == ErrFutexTimeout {
			return LockedMutex{}, status.New(codes.Timeout, "timed out acquiring mutex")
		}
		if err != nil {
			return LockedMutex{}, status.Newf(codes.SyncPrimitive, "mutex lock: %v", err)
		}
	}
	return LockedMutex{m: m}, nil
}

// tryAcquire attempts the uncontended fast path, spinning briefly before
// reporting failure.
func (m *Mutex) tryAcquire() bool {
	w := spin.Wait{}
	for i := 0; i < mutexSpinCount; i++ {
		if atomic.CompareAndSwapUint32(&m.state, mutexUnlocked, mutexLocked) {
			return true
		}
		if atomic.LoadUint32(&m.state) == mutexContended {
			return false
		}
		w.Once()
	}
	return false
}

// A LockedMutex is returned by a successful Lock or LockTimed. Holding one
// proves the underlying mutex is acquired; condition variables take it as a
// wait argument for that reason.
type LockedMutex struct {
	m *Mutex
}

// Unlock releases the mutex. Waking a parked waiter can only fail if the
// futex word became unmapped, which teardown ordering prevents; a failure
// is logged rather than surfaced.
func (l LockedMutex) Unlock() {
	if atomic.SwapUint32(&l.m.state, mutexUnlocked) == mutexContended {
		if _, err := futexWake(&l.m.state, 1, l.m.shared()); err != nil {
			slog.Error("mutex unlock: futex wake failed", "error", err)
		}
	}
}
