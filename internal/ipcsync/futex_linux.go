//go:build linux && (amd64 || arm64)

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
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// futexOp selects the wait or wake opcode. Words living in memory mapped
// into a single process may use the private variants; words shared across
// processes must not.
func futexOp(op int, shared bool) int {
	if shared {
		return op
	}
	return op | unix.FUTEX_PRIVATE_FLAG
}

// futexWait waits for the value at addr to change from val.
// It returns when either:
//   - The value at addr is no longer equal to val
//   - Another thread calls futexWake on the same address
//   - The system call is interrupted
//
// This function should only be called when the logical condition is unmet
// and *addr == val. Always re-check the condition after this returns due
// to possible spurious wakeups.
func futexWait(addr *uint32, val uint32, shared bool) error {
	// Re-check the value atomically before entering the syscall. This
	// prevents the lost-wake race where another thread changes the word and
	// wakes us between our snapshot and futex entry.
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexOp(unix.FUTEX_WAIT, shared)),
		uintptr(val),
		0, // timeout - infinite (NULL)
		0, // uaddr2 - unused
		0, // val3 - unused
	)

	if errno != 0 {
		// EAGAIN means the value didn't match, EINTR means interrupted by a
		// signal. Neither is a real error for our purposes.
		if errno == unix.EAGAIN || errno == unix.EINTR {
			return nil
		}
		return fmt.Errorf("futex wait failed: %w", errno)
	}
	return nil
}

// futexWaitTimeout waits on addr until the value changes from val or
// timeoutNs elapses. Returns ErrFutexTimeout if the wait times out. A
// non-positive timeoutNs waits without a deadline, as futexWait does.
//
// This function should only be called when the logical condition is unmet
// and *addr == val. Always re-check the condition after this returns due
// to possible spurious wakeups.
func futexWaitTimeout(addr *uint32, val uint32, timeoutNs int64, shared bool) error {
	if timeoutNs <= 0 {
		return futexWait(addr, val, shared)
	}

	if atomic.LoadUint32(addr) != val {
		return nil
	}

	ts := unix.NsecToTimespec(timeoutNs)

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexOp(unix.FUTEX_WAIT, shared)),
		uintptr(val),
		uintptr(unsafe.Pointer(&ts)),
		0, // uaddr2 - unused
		0, // val3 - unused
	)

	if errno != 0 {
		if errno == unix.EAGAIN || errno == unix.EINTR {
			return nil
		}
		if errno == unix.ETIMEDOUT {
			return ErrFutexTimeout
		}
		return fmt.Errorf("futex wait failed: %w", errno)
	}
	return nil
}

// futexWake wakes up to n threads waiting on addr.
// Returns the number of threads actually woken up.
func futexWake(addr *uint32, n int, shared bool) (int, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexOp(unix.FUTEX_WAKE, shared)),
		uintptr(n),
		0, // timeout - unused for wake
		0, // uaddr2 - unused
		0, // val3 - unused
	)

	if errno != 0 {
		return 0, fmt.Errorf("futex wake failed: %w", errno)
	}
	return int(r1), nil
}
