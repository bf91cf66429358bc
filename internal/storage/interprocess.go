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

package storage

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/kevinjoseph1995/pika/codes"
	"github.com/kevinjoseph1995/pika/status"
)

// InterProcess is a Region backed by a file under /dev/shm, mapped
// MAP_SHARED so every process that opens the same name sees one memory.
type InterProcess struct {
	name string
	path string
	mem  []byte
}

// OpenInterProcess opens the shared memory object called name, creating it
// with the requested size if it does not exist. Attaching to an existing
// object of a different size is an error; the first opener fixes the size
// for everyone.
func OpenInterProcess(name string, size uint64) (*InterProcess, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, status.Newf(codes.SharedBuffer, "shared buffer %q: size must be non-zero", name)
	}
	path := "/dev/shm/" + name[1:]

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o600)
	if err != nil {
		return nil, status.Newf(codes.SharedBuffer, "open shared buffer %q: %v", name, err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, status.Newf(codes.SharedBuffer, "stat shared buffer %q: %v", name, err)
	}
	switch {
	case st.Size == 0:
		// Fresh object; the creator sizes it.
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			unix.Close(fd)
			return nil, status.Newf(codes.SharedBuffer, "size shared buffer %q to %d bytes: %v", name, size, err)
		}
	case uint64(st.Size) != size:
		unix.Close(fd)
		return nil, status.Newf(codes.SharedBuffer,
			"shared buffer %q exists with size %d, requested %d", name, st.Size, size)
	}

	mem, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	unix.Close(fd)
	if err != nil {
		return nil, status.Newf(codes.SharedBuffer, "map shared buffer %q: %v", name, err)
	}

	return &InterProcess{name: name, path: path, mem: mem}, nil
}

// Base returns the start of the mapping. mmap returns page-aligned memory,
// which satisfies any element alignment the channel layer asks for.
func (b *InterProcess) Base() unsafe.Pointer {
	return unsafe.Pointer(&b.mem[0])
}

// Size returns the length of the mapping in bytes.
func (b *InterProcess) Size() uint64 {
	return uint64(len(b.mem))
}

// Close unmaps the region. The shared object itself stays until Unlink.
func (b *InterProcess) Close() error {
	if b.mem == nil {
		return nil
	}
	mem := b.mem
	b.mem = nil
	if err := unix.Munmap(mem); err != nil {
		return status.Newf(codes.SharedBuffer, "unmap shared buffer %q: %v", b.name, err)
	}
	return nil
}

// Unlink removes the object's name from /dev/shm. A name already removed
// is not an error.
func (b *InterProcess) Unlink() error {
	if err := unix.Unlink(b.path); err != nil && err != unix.ENOENT {
		return status.Newf(codes.SharedBuffer, "unlink shared buffer %q: %v", b.name, err)
	}
	return nil
}
