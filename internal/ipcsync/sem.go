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
	"strings"
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/spin"
	"golang.org/x/sys/unix"

	"github.com/kevinjoseph1995/pika/codes"
	"github.com/kevinjoseph1995/pika/status"
)

// Semaphore name limits follow the POSIX sem_open rules: a leading slash,
// no interior slashes, and room left for the "sem." file prefix.
const semNameMax = 251

// semWord is the shared state of a named semaphore. The init word goes
// through 0 (fresh file) -> 1 (initializer running) -> 2 (usable) exactly
// once per name lifetime.
type semWord struct {
	value  uint32
	inited uint32
}

const (
	semFresh        = 0
	semInitializing = 1
	semReady        = 2
)

const semRegionSize = int(unsafe.Sizeof(semWord{}))

// A Semaphore is a counting semaphore named in the filesystem and usable
// across processes. It is backed by a futex word in a small file under
// /dev/shm, mirroring where sem_open places its objects.
type Semaphore struct {
	name string
	path string
	mem  []byte
	word *semWord
}

// validateSemName checks the identifier against the sem_open naming rules.
func validateSemName(name string) error {
	if len(name) == 0 || name[0] != '/' {
		return status.Newf(codes.SharedBuffer, "semaphore name %q must begin with '/'", name)
	}
	if strings.Contains(name[1:], "/") {
		return status.Newf(codes.SharedBuffer, "semaphore name %q must not contain interior '/'", name)
	}
	if len(name) > semNameMax {
		return status.Newf(codes.SharedBuffer, "semaphore name %q exceeds %d characters", name, semNameMax)
	}
	return nil
}

// OpenSemaphore opens the semaphore named name, creating it with the given
// initial value if it does not exist. Concurrent openers of a fresh name
// race to initialize; exactly one wins and the rest wait for it to finish.
func OpenSemaphore(name string, initial uint32) (*Semaphore, error) {
	if err := validateSemName(name); err != nil {
		return nil, err
	}
	path := "/dev/shm/sem." + name[1:]

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o600)
	if err != nil {
		return nil, status.Newf(codes.SyncPrimitive, "open semaphore %q: %v", name, err)
	}
	if err := unix.Ftruncate(fd, int64(semRegionSize)); err != nil {
		unix.Close(fd)
		return nil, status.Newf(codes.SyncPrimitive, "size semaphore %q: %v", name, err)
	}
	mem, err := unix.Mmap(fd, 0, semRegionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	unix.Close(fd)
	if err != nil {
		return nil, status.Newf(codes.SyncPrimitive, "map semaphore %q: %v", name, err)
	}

	s := &Semaphore{
		name: name,
		path: path,
		mem:  mem,
		word: (*semWord)(unsafe.Pointer(&mem[0])),
	}
	if err := s.initOnce(initial); err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	return s, nil
}

func (s *Semaphore) initOnce(initial uint32) error {
	if atomic.CompareAndSwapUint32(&s.word.inited, semFresh, semInitializing) {
		atomic.StoreUint32(&s.word.value, initial)
		atomic.StoreUint32(&s.word.inited, semReady)
		if _, err := futexWake(&s.word.inited, int(^uint32(0)>>1), true); err != nil {
			return status.Newf(codes.SyncPrimitive, "initialize semaphore %q: %v", s.name, err)
		}
		return nil
	}
	w := spin.Wait{}
	for atomic.LoadUint32(&s.word.inited) != semReady {
		if err := futexWait(&s.word.inited, semInitializing, true); err != nil {
			return status.Newf(codes.SyncPrimitive, "open semaphore %q: %v", s.name, err)
		}
		w.Once()
	}
	return nil
}

// Wait decrements the semaphore, blocking while its value is zero.
func (s *Semaphore) Wait() error {
	w := spin.Wait{}
	for {
		v := atomic.LoadUint32(&s.word.value)
		if v > 0 {
			if atomic.CompareAndSwapUint32(&s.word.value, v, v-1) {
				return nil
			}
			w.Once()
			continue
		}
		if err := futexWait(&s.word.value, 0, true); err != nil {
			return status.Newf(codes.SyncPrimitive, "semaphore wait: %v", err)
		}
		w.Reset()
	}
}

// Post increments the semaphore and wakes one waiter.
func (s *Semaphore) Post() error {
	atomic.AddUint32(&s.word.value, 1)
	if _, err := futexWake(&s.word.value, 1, true); err != nil {
		return status.Newf(codes.SyncPrimitive, "semaphore post: %v", err)
	}
	return nil
}

// Close drops this process's handle on the semaphore. The name remains
// until Unlink.
func (s *Semaphore) Close() error {
	if s.mem == nil {
		return nil
	}
	mem := s.mem
	s.mem = nil
	s.word = nil
	if err := unix.Munmap(mem); err != nil {
		return status.Newf(codes.SyncPrimitive, "close semaphore %q: %v", s.name, err)
	}
	return nil
}

// Unlink removes the semaphore name. Existing handles keep working; a name
// already removed is not an error.
func (s *Semaphore) Unlink() error {
	if err := unix.Unlink(s.path); err != nil && err != unix.ENOENT {
		return status.Newf(codes.SyncPrimitive, "unlink semaphore %q: %v", s.name, err)
	}
	return nil
}
